package transcript

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"lorekeeper/internal/config"
	"lorekeeper/internal/models"
)

// Store is the persistence surface ingestion needs.
type Store interface {
	UpsertCampaign(ctx context.Context, c *models.Campaign) error
	UpsertSession(ctx context.Context, s *models.Session) error
	UpsertParticipant(ctx context.Context, p *models.Participant) error
	ListEntities(ctx context.Context, campaignID string) ([]models.Entity, error)
	CreateEntity(ctx context.Context, e *models.Entity) error
	AddEntityAlias(ctx context.Context, a *models.EntityAlias) error
	LinkParticipantCharacter(ctx context.Context, pc *models.ParticipantCharacter) error
	SaveUtterances(ctx context.Context, sessionID string, utterances []models.Utterance) error
}

// IngestResult is what the ingest stage hands to later stages.
type IngestResult struct {
	Campaign       models.Campaign    `json:"campaign"`
	Session        models.Session     `json:"session"`
	Source         Source             `json:"source"`
	TranscriptHash string             `json:"transcript_hash"`
	Utterances     []models.Utterance `json:"utterances"`
	CharacterMap   map[string]string  `json:"character_map"`
}

// Ingester locates and persists transcripts.
type Ingester struct {
	store Store
	root  string
	now   func() time.Time
}

// NewIngester creates an ingester rooted at the campaigns directory parent.
func NewIngester(s Store, root string) *Ingester {
	return &Ingester{store: s, root: root, now: time.Now}
}

// SessionDir returns the transcript directory for a session.
func (in *Ingester) SessionDir(campaignSlug, sessionSlug string) string {
	return filepath.Join(in.root, "campaigns", campaignSlug, "sessions", sessionSlug)
}

// Hash returns the sha256 hex digest of the transcript file. It feeds the
// run idempotency key, so it must be computed before a run starts.
func Hash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read transcript: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Locate finds the transcript for a session and hashes it.
func (in *Ingester) Locate(campaignSlug, sessionSlug string) (Source, string, error) {
	src, err := FindSource(in.SessionDir(campaignSlug, sessionSlug))
	if err != nil {
		return Source{}, "", err
	}
	hash, err := Hash(src.Path)
	if err != nil {
		return Source{}, "", err
	}
	return src, hash, nil
}

// EnsureSession upserts the campaign and session rows for a slug pair
// without touching the transcript. Run idempotency keys need both IDs
// before the ingest stage executes.
func (in *Ingester) EnsureSession(ctx context.Context, campaignSlug, sessionSlug string) (*models.Campaign, *models.Session, error) {
	cfg, err := config.LoadCampaign(in.root, campaignSlug)
	if err != nil {
		return nil, nil, err
	}
	campaign := models.Campaign{
		ID:        uuid.NewString(),
		Slug:      campaignSlug,
		Name:      titleFromSlug(campaignSlug),
		CreatedAt: in.now().UTC(),
	}
	if cfg != nil && cfg.Name != "" {
		campaign.Name = cfg.Name
	}
	if cfg != nil {
		campaign.System = cfg.System
	}
	if err := in.store.UpsertCampaign(ctx, &campaign); err != nil {
		return nil, nil, err
	}
	session := models.Session{
		ID:            uuid.NewString(),
		CampaignID:    campaign.ID,
		Slug:          sessionSlug,
		SessionNumber: sessionNumberFromSlug(sessionSlug),
	}
	if err := in.store.UpsertSession(ctx, &session); err != nil {
		return nil, nil, err
	}
	return &campaign, &session, nil
}

// Ingest parses the session transcript and persists campaign, session,
// participants, roster characters, and utterances.
func (in *Ingester) Ingest(ctx context.Context, campaignSlug, sessionSlug string) (*IngestResult, error) {
	src, hash, err := in.Locate(campaignSlug, sessionSlug)
	if err != nil {
		return nil, err
	}
	parsed, err := Parse(src.Path)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadCampaign(in.root, campaignSlug)
	if err != nil {
		return nil, err
	}
	aliasMap := cfg.SpeakerAliasMap()

	campaign, session, err := in.EnsureSession(ctx, campaignSlug, sessionSlug)
	if err != nil {
		return nil, err
	}

	participants, err := in.ensureRoster(ctx, campaign, cfg)
	if err != nil {
		return nil, err
	}

	utterances := make([]models.Utterance, 0, len(parsed))
	for _, pu := range parsed {
		display := pu.Speaker
		if mapped, ok := aliasMap[pu.Speaker]; ok {
			display = mapped
		}
		p, ok := participants[display]
		if !ok {
			p = models.Participant{
				ID:          uuid.NewString(),
				CampaignID:  campaign.ID,
				DisplayName: display,
			}
			if err := in.store.UpsertParticipant(ctx, &p); err != nil {
				return nil, err
			}
			participants[display] = p
		}
		speakerRaw := pu.SpeakerRaw
		if speakerRaw == "" {
			speakerRaw = pu.Speaker
		}
		utterances = append(utterances, models.Utterance{
			ID:            uuid.NewString(),
			SessionID:     session.ID,
			ParticipantID: p.ID,
			StartMS:       pu.StartMS,
			EndMS:         pu.EndMS,
			SpeakerRaw:    speakerRaw,
			Text:          pu.Text,
		})
	}
	if err := in.store.SaveUtterances(ctx, session.ID, utterances); err != nil {
		return nil, err
	}

	return &IngestResult{
		Campaign:       *campaign,
		Session:        *session,
		Source:         src,
		TranscriptHash: hash,
		Utterances:     utterances,
		CharacterMap:   cfg.CharacterMap(),
	}, nil
}

// ensureRoster upserts configured participants and their characters.
func (in *Ingester) ensureRoster(ctx context.Context, campaign *models.Campaign, cfg *config.CampaignConfig) (map[string]models.Participant, error) {
	participants := make(map[string]models.Participant)
	if cfg == nil {
		return participants, nil
	}

	entities, err := in.store.ListEntities(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]models.Entity)
	for _, e := range entities {
		if e.Type == models.EntityCharacter {
			byName[e.CanonicalName] = e
		}
	}

	for _, entry := range cfg.Participants {
		if entry.DisplayName == "" {
			continue
		}
		p := models.Participant{
			ID:             uuid.NewString(),
			CampaignID:     campaign.ID,
			DisplayName:    entry.DisplayName,
			Role:           models.Role(entry.Role),
			SpeakerAliases: entry.SpeakerAliases,
		}
		if err := in.store.UpsertParticipant(ctx, &p); err != nil {
			return nil, err
		}
		participants[entry.DisplayName] = p

		if entry.Character == nil || strings.TrimSpace(entry.Character.Name) == "" {
			continue
		}
		name := strings.TrimSpace(entry.Character.Name)
		entity, ok := byName[name]
		if !ok {
			entity = models.Entity{
				ID:                 uuid.NewString(),
				CampaignID:         campaign.ID,
				Type:               models.EntityCharacter,
				CanonicalName:      name,
				CharacterKind:      entry.Character.Kind,
				OwnerParticipantID: p.ID,
				CreatedAt:          in.now().UTC(),
			}
			if err := in.store.CreateEntity(ctx, &entity); err != nil {
				return nil, err
			}
			byName[name] = entity
		}
		for _, alias := range entry.Character.Aliases {
			alias = strings.TrimSpace(alias)
			if alias == "" {
				continue
			}
			a := models.EntityAlias{ID: uuid.NewString(), EntityID: entity.ID, Alias: alias}
			if err := in.store.AddEntityAlias(ctx, &a); err != nil {
				return nil, err
			}
		}
		pc := models.ParticipantCharacter{ID: uuid.NewString(), ParticipantID: p.ID, EntityID: entity.ID}
		if err := in.store.LinkParticipantCharacter(ctx, &pc); err != nil {
			return nil, err
		}
	}
	return participants, nil
}

func titleFromSlug(slug string) string {
	words := strings.Fields(strings.ReplaceAll(slug, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func sessionNumberFromSlug(slug string) int {
	if !strings.HasPrefix(slug, "session_") {
		return 0
	}
	parts := strings.Split(slug, "_")
	if len(parts) < 2 {
		return 0
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	return n
}
