package pipeline

import (
	"fmt"
	"strings"

	"lorekeeper/internal/models"
)

// renderMarkdown builds the session summary artifact. Quote text is
// emitted exactly as persisted; it already passed evidence validation.
func renderMarkdown(campaign *models.Campaign, session *models.Session, narrative string, quotes []models.Quote) string {
	var b strings.Builder

	title := session.Title
	if title == "" {
		title = session.Slug
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Campaign: %s\n", campaign.Name)
	if session.SessionNumber > 0 {
		fmt.Fprintf(&b, "Session: %d\n", session.SessionNumber)
	}
	b.WriteString("\n")

	b.WriteString(strings.TrimSpace(narrative))
	b.WriteString("\n")

	if len(quotes) > 0 {
		b.WriteString("\n## Quotes\n\n")
		for _, q := range quotes {
			line := fmt.Sprintf("> %q", q.Text)
			if q.Speaker != "" {
				line += fmt.Sprintf(" (%s)", q.Speaker)
			}
			b.WriteString(line + "\n")
			if q.Note != "" {
				fmt.Fprintf(&b, ">\n> %s\n", q.Note)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
