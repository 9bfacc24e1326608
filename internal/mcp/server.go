// Package mcp exposes the correction ledger and run status over the
// Model Context Protocol, so table assistants can submit and review
// corrections without shelling out to the CLI.
package mcp

import (
	"context"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"lorekeeper/internal/canonical"
	"lorekeeper/internal/ledger"
	"lorekeeper/internal/logging"
	"lorekeeper/internal/models"
	"lorekeeper/internal/store"
)

// Config holds the MCP server settings.
type Config struct {
	Name    string
	Version string
	Root    string
}

// Server wraps an MCP server over the lorekeeper store.
type Server struct {
	server *sdk.Server
	store  *store.Store
	ledger ledger.Ledger
	root   string
}

// NewServer creates the server, its store, and registers all tools.
func NewServer(cfg *Config) (*Server, error) {
	if err := store.EnsureDataDir(cfg.Root); err != nil {
		return nil, fmt.Errorf("failed to prepare data dir: %w", err)
	}
	st, err := store.Open(store.DBPath(cfg.Root))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	s := &Server{
		server: sdk.NewServer(&sdk.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		store:  st,
		ledger: ledger.New(st, nil),
		root:   cfg.Root,
	}
	s.registerTools()
	return s, nil
}

// Run serves over stdio until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	logging.Info("mcp server starting", "root", s.root)
	return s.server.Run(ctx, &sdk.StdioTransport{})
}

// Close releases the store. Safe to call more than once.
func (s *Server) Close() error {
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}

func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "lorekeeper_submit_correction",
		Description: "Submit a correction to canonical campaign state. DM corrections apply immediately; player corrections enter review.",
	}, s.handleSubmitCorrection)
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "lorekeeper_decide_correction",
		Description: "Approve or reject a pending correction. DM only.",
	}, s.handleDecideCorrection)
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "lorekeeper_run_status",
		Description: "Get the status and step history of a processing run.",
	}, s.handleRunStatus)
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "lorekeeper_entities",
		Description: "List a campaign's canonical entities with aliases and correction state.",
	}, s.handleEntities)
}

type submitCorrectionInput struct {
	Campaign   string `json:"campaign" jsonschema:"campaign slug"`
	Session    string `json:"session,omitempty" jsonschema:"optional session slug scope"`
	TargetType string `json:"target_type" jsonschema:"entity or thread"`
	TargetID   string `json:"target_id" jsonschema:"id of the entity or thread being corrected"`
	Action     string `json:"action" jsonschema:"correction action, e.g. entity_rename or thread_merge"`
	Name       string `json:"name,omitempty"`
	Alias      string `json:"alias,omitempty"`
	IntoID     string `json:"into_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Title      string `json:"title,omitempty"`
	Summary    string `json:"summary,omitempty"`
	By         string `json:"by" jsonschema:"who is submitting"`
	Role       string `json:"role" jsonschema:"dm or player"`
}

type correctionOutput struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func (s *Server) handleSubmitCorrection(ctx context.Context, req *sdk.CallToolRequest, in submitCorrectionInput) (*sdk.CallToolResult, correctionOutput, error) {
	campaign, err := s.store.GetCampaignBySlug(ctx, in.Campaign)
	if err != nil {
		return nil, correctionOutput{}, err
	}
	var sessionID string
	if in.Session != "" {
		session, err := s.store.GetSessionBySlug(ctx, campaign.ID, in.Session)
		if err != nil {
			return nil, correctionOutput{}, err
		}
		sessionID = session.ID
	}
	c, err := s.ledger.Submit(ctx, models.Correction{
		CampaignID: campaign.ID,
		SessionID:  sessionID,
		TargetType: models.TargetType(in.TargetType),
		TargetID:   in.TargetID,
		Action:     models.Action(in.Action),
		Payload: models.CorrectionPayload{
			Name:    in.Name,
			Alias:   in.Alias,
			IntoID:  in.IntoID,
			Status:  in.Status,
			Title:   in.Title,
			Summary: in.Summary,
		},
		CreatedBy:     in.By,
		CreatedByRole: models.Role(in.Role),
	})
	if err != nil {
		return nil, correctionOutput{}, err
	}
	return nil, correctionOutput{ID: c.ID, State: string(c.State)}, nil
}

type decideCorrectionInput struct {
	CorrectionID string `json:"correction_id"`
	Decision     string `json:"decision" jsonschema:"approve or reject"`
	Reviewer     string `json:"reviewer"`
	Role         string `json:"role" jsonschema:"dm or player"`
}

func (s *Server) handleDecideCorrection(ctx context.Context, req *sdk.CallToolRequest, in decideCorrectionInput) (*sdk.CallToolResult, correctionOutput, error) {
	var c *models.Correction
	var err error
	switch in.Decision {
	case "approve":
		c, err = s.ledger.Approve(ctx, in.CorrectionID, in.Reviewer, models.Role(in.Role))
	case "reject":
		c, err = s.ledger.Reject(ctx, in.CorrectionID, in.Reviewer, models.Role(in.Role))
	default:
		return nil, correctionOutput{}, fmt.Errorf("unknown decision %q", in.Decision)
	}
	if err != nil {
		return nil, correctionOutput{}, err
	}
	return nil, correctionOutput{ID: c.ID, State: string(c.State)}, nil
}

type runStatusInput struct {
	RunID string `json:"run_id"`
}

type runStatusOutput struct {
	Run *models.Run `json:"run"`
}

func (s *Server) handleRunStatus(ctx context.Context, req *sdk.CallToolRequest, in runStatusInput) (*sdk.CallToolResult, runStatusOutput, error) {
	r, err := s.store.GetRun(ctx, in.RunID)
	if err != nil {
		return nil, runStatusOutput{}, err
	}
	return nil, runStatusOutput{Run: r}, nil
}

type entitiesInput struct {
	Campaign      string `json:"campaign" jsonschema:"campaign slug"`
	IncludeHidden bool   `json:"include_hidden,omitempty" jsonschema:"include hidden and merged entities"`
}

type entitiesOutput struct {
	Entities []models.Entity `json:"entities"`
}

func (s *Server) handleEntities(ctx context.Context, req *sdk.CallToolRequest, in entitiesInput) (*sdk.CallToolResult, entitiesOutput, error) {
	campaign, err := s.store.GetCampaignBySlug(ctx, in.Campaign)
	if err != nil {
		return nil, entitiesOutput{}, err
	}
	entities, err := s.store.ListEntities(ctx, campaign.ID)
	if err != nil {
		return nil, entitiesOutput{}, err
	}
	aliases, err := s.store.ListEntityAliases(ctx, campaign.ID)
	if err != nil {
		return nil, entitiesOutput{}, err
	}
	corrections, err := s.store.ListCorrections(ctx, campaign.ID)
	if err != nil {
		return nil, entitiesOutput{}, err
	}
	em := canonical.BuildEntityMap(entities, aliases, corrections)
	annotated := em.Annotate(entities)
	if in.IncludeHidden {
		return nil, entitiesOutput{Entities: annotated}, nil
	}
	visible := annotated[:0]
	for _, e := range annotated {
		if e.Hidden || e.MergedInto != "" {
			continue
		}
		visible = append(visible, e)
	}
	return nil, entitiesOutput{Entities: visible}, nil
}
