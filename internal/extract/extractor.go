// Package extract defines the model collaborator that turns transcript
// text into structured session facts and narrative prose.
package extract

import (
	"context"

	"lorekeeper/internal/canonical"
	"lorekeeper/internal/models"
)

// FactsRequest is the input for structured extraction. The canonical
// snapshot lets the model emit canonical names instead of inventing
// variants.
type FactsRequest struct {
	CampaignName string
	SessionSlug  string
	Transcript   string
	Canonical    canonical.Snapshot
}

// PlanRequest is the input for summary planning.
type PlanRequest struct {
	CampaignName string
	SessionSlug  string
	Facts        *models.SessionFacts
	Quotes       []models.Quote
}

// NarrativeRequest is the input for narrative writing.
type NarrativeRequest struct {
	CampaignName string
	SessionSlug  string
	Plan         *models.SummaryPlan
	Facts        *models.SessionFacts
	Quotes       []models.Quote
}

// Extractor is the model collaborator. Implementations return the typed
// result plus the raw response payload, which the pipeline persists so a
// resumed run can replay a stage without re-invoking the model.
type Extractor interface {
	ExtractFacts(ctx context.Context, req FactsRequest) (*models.SessionFacts, []byte, error)
	PlanSummary(ctx context.Context, req PlanRequest) (*models.SummaryPlan, []byte, error)
	WriteNarrative(ctx context.Context, req NarrativeRequest) (string, []byte, error)
}

// Embedder produces vectors for quote retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
