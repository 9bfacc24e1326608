package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"lorekeeper/internal/logging"
	"lorekeeper/internal/models"
)

// GeminiConfig configures the Gemini-backed extractor.
type GeminiConfig struct {
	APIKey            string
	Model             string
	RequestsPerMinute int
}

// Gemini implements Extractor against the Gemini API.
type Gemini struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
}

// NewGemini creates a Gemini extractor.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-3-flash"
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 10
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Gemini{
		client:  client,
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}, nil
}

// Model returns the configured model name, part of the run idempotency key.
func (g *Gemini) Model() string {
	return g.model
}

// ExtractFacts runs structured extraction.
func (g *Gemini) ExtractFacts(ctx context.Context, req FactsRequest) (*models.SessionFacts, []byte, error) {
	payload, err := g.generateJSON(ctx, factsSystemPrompt, BuildFactsPrompt(req))
	if err != nil {
		return nil, nil, fmt.Errorf("facts extraction failed: %w", err)
	}
	var facts models.SessionFacts
	if err := json.Unmarshal(payload, &facts); err != nil {
		return nil, payload, fmt.Errorf("failed to decode facts response: %w", err)
	}
	return &facts, payload, nil
}

// PlanSummary runs beat planning over extracted facts.
func (g *Gemini) PlanSummary(ctx context.Context, req PlanRequest) (*models.SummaryPlan, []byte, error) {
	payload, err := g.generateJSON(ctx, planSystemPrompt, BuildPlanPrompt(req))
	if err != nil {
		return nil, nil, fmt.Errorf("summary planning failed: %w", err)
	}
	var plan models.SummaryPlan
	if err := json.Unmarshal(payload, &plan); err != nil {
		return nil, payload, fmt.Errorf("failed to decode plan response: %w", err)
	}
	return &plan, payload, nil
}

// WriteNarrative writes the session recap from the beat plan.
func (g *Gemini) WriteNarrative(ctx context.Context, req NarrativeRequest) (string, []byte, error) {
	payload, err := g.generateJSON(ctx, narrativeSystemPrompt, BuildNarrativePrompt(req))
	if err != nil {
		return "", nil, fmt.Errorf("narrative writing failed: %w", err)
	}
	var out struct {
		Narrative string `json:"narrative"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", payload, fmt.Errorf("failed to decode narrative response: %w", err)
	}
	if out.Narrative == "" {
		return "", payload, fmt.Errorf("empty narrative response")
	}
	return out.Narrative, payload, nil
}

func (g *Gemini) generateJSON(ctx context.Context, system, user string) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	logging.Debug("calling model", "model", g.model, "prompt_chars", len(user))

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(user, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
			ResponseMIMEType:  "application/json",
		})
	if err != nil {
		return nil, fmt.Errorf("generate failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("empty model response")
	}
	return []byte(text), nil
}

// GeminiEmbedder implements Embedder against the Gemini embedding API.
type GeminiEmbedder struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
}

// NewGeminiEmbedder creates an embedder for quote retrieval.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, rpm int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if rpm <= 0 {
		rpm = 10
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiEmbedder{
		client:  client,
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}, nil
}

// Embed generates an embedding for a single text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents,
		&genai.EmbedContentConfig{
			TaskType: "RETRIEVAL_DOCUMENT",
		})
	if err != nil {
		return nil, fmt.Errorf("embed failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
