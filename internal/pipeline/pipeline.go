// Package pipeline orchestrates session processing as a sequence of run
// steps: ingest, extract, persist, resolve, plan, write, render. Each
// stage persists its output so a resumed run can replay prior stages
// from storage instead of re-invoking the model.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"lorekeeper/internal/canonical"
	"lorekeeper/internal/config"
	"lorekeeper/internal/evidence"
	"lorekeeper/internal/extract"
	"lorekeeper/internal/logging"
	"lorekeeper/internal/models"
	"lorekeeper/internal/resolve"
	"lorekeeper/internal/run"
	"lorekeeper/internal/sanitize"
	"lorekeeper/internal/store"
	"lorekeeper/internal/tokens"
	"lorekeeper/internal/transcript"
)

// Extraction kinds persisted per run. Facts are stored twice: as the
// mapped model output and again after evidence cleaning, so resolve can
// replay cleaned input on resume.
const (
	KindFacts         = "session_facts"
	KindCleanFacts    = "clean_facts"
	KindPersistIndex  = "persist_index"
	KindResolvedFacts = "resolved_facts"
	KindPlan          = "summary_plan"
	KindNarrative     = "session_narrative"
	KindQualityReport = "quality_report"
)

// ArtifactSessionSummary is the kind recorded for rendered summaries.
const ArtifactSessionSummary = "session_summary"

// Options configure a pipeline.
type Options struct {
	Root            string
	Model           string
	PromptVersion   string
	MaxPromptTokens int
}

// Pipeline runs the processing stages for one session at a time.
type Pipeline struct {
	store     *store.Store
	ctrl      *run.Controller
	extractor extract.Extractor
	opts      Options
}

// New creates a pipeline over the given store, controller, and extractor.
func New(st *store.Store, ctrl *run.Controller, ex extract.Extractor, opts Options) *Pipeline {
	return &Pipeline{store: st, ctrl: ctrl, extractor: ex, opts: opts}
}

// state carries stage outputs within one execution. Every field has a
// loader that can rebuild it from storage, so a resumed run starts from
// whichever stage comes next.
type state struct {
	run      *models.Run
	campaign *models.Campaign
	session  *models.Session

	ingest    *transcript.IngestResult
	facts     *models.SessionFacts
	resolved  *models.SessionFacts
	plan      *models.SummaryPlan
	narrative string

	mentions []models.Mention
	quotes   []models.Quote
	index    *persistIndex
}

// persistIndex records what the persist stage wrote, in order.
// Event order matters: thread updates reference events by index.
type persistIndex struct {
	EventIDs []string               `json:"event_ids"`
	Counters models.QualityCounters `json:"counters"`
}

// QualityReport is the per-run bookkeeping written after resolution.
type QualityReport struct {
	Counters        models.QualityCounters   `json:"counters"`
	AliasCollisions []resolve.AliasCollision `json:"alias_collisions,omitempty"`
}

type narrativeEnvelope struct {
	Narrative string `json:"narrative"`
}

// Process starts or short-circuits a run for the session and executes
// all stages. A prior run with the same idempotency key is returned
// as-is unless force is set.
func (p *Pipeline) Process(ctx context.Context, campaignSlug, sessionSlug string, force bool) (*models.Run, error) {
	ing := transcript.NewIngester(p.store, p.opts.Root)
	campaign, session, err := ing.EnsureSession(ctx, campaignSlug, sessionSlug)
	if err != nil {
		return nil, err
	}
	_, hash, err := ing.Locate(campaignSlug, sessionSlug)
	if err != nil {
		return nil, err
	}
	key := models.RunKey{
		CampaignID:     campaign.ID,
		SessionID:      session.ID,
		TranscriptHash: hash,
		PromptVersion:  p.opts.PromptVersion,
		Model:          p.opts.Model,
	}
	r, created, err := p.ctrl.Start(ctx, key, force)
	if err != nil {
		return nil, err
	}
	if !created {
		logging.Info("run already satisfied", "run", r.ID, "status", r.Status)
		return r, nil
	}
	logging.Info("run started", "run", r.ID, "campaign", campaignSlug, "session", sessionSlug)
	return p.execute(ctx, r, campaign, session)
}

// Resume re-enters a partial run. Succeeded stages are skipped; their
// outputs are reloaded from storage as later stages need them.
func (p *Pipeline) Resume(ctx context.Context, runID string) (*models.Run, error) {
	r, err := p.ctrl.Resume(ctx, runID)
	if err != nil {
		return nil, err
	}
	session, err := p.store.GetSession(ctx, r.SessionID)
	if err != nil {
		return nil, err
	}
	campaign, err := p.store.GetCampaign(ctx, r.CampaignID)
	if err != nil {
		return nil, err
	}
	logging.Info("run resumed", "run", r.ID, "session", session.Slug)
	return p.execute(ctx, r, campaign, session)
}

func (p *Pipeline) execute(ctx context.Context, r *models.Run, campaign *models.Campaign, session *models.Session) (*models.Run, error) {
	lock := p.store.CampaignLock(campaign.ID)
	lock.Lock()
	defer lock.Unlock()

	st := &state{run: r, campaign: campaign, session: session}
	done := run.CompletedSteps(r)

	stages := []struct {
		name string
		fn   func(context.Context, *state) error
	}{
		{"ingest", p.stageIngest},
		{"extract", p.stageExtract},
		{"persist", p.stagePersist},
		{"resolve", p.stageResolve},
		{"plan", p.stagePlan},
		{"write", p.stageWrite},
		{"render", p.stageRender},
	}
	for _, sg := range stages {
		if done[sg.name] {
			continue
		}
		fn := sg.fn
		err := p.ctrl.ExecuteStep(ctx, r.ID, sg.name, func(ctx context.Context) error {
			return fn(ctx, st)
		})
		if err != nil {
			logging.Error("stage failed", "run", r.ID, "stage", sg.name, "err", err)
			if ferr := p.ctrl.Finish(ctx, r.ID, models.RunFailed, err.Error()); ferr != nil {
				logging.Error("failed to finish run", "run", r.ID, "err", ferr)
			}
			final, gerr := p.store.GetRun(ctx, r.ID)
			if gerr != nil {
				return nil, err
			}
			return final, err
		}
	}
	if err := p.ctrl.Finish(ctx, r.ID, models.RunCompleted, ""); err != nil {
		return nil, err
	}
	logging.Info("run completed", "run", r.ID)
	return p.store.GetRun(ctx, r.ID)
}

// stageIngest parses and persists the transcript. Utterance rows are the
// ground truth for every evidence offset downstream.
func (p *Pipeline) stageIngest(ctx context.Context, st *state) error {
	ing := transcript.NewIngester(p.store, p.opts.Root)
	res, err := ing.Ingest(ctx, st.campaign.Slug, st.session.Slug)
	if err != nil {
		return err
	}
	if res.TranscriptHash != st.run.TranscriptHash {
		return fmt.Errorf("transcript changed since run started: %s != %s",
			res.TranscriptHash, st.run.TranscriptHash)
	}
	st.ingest = res
	return nil
}

// stageExtract formats the transcript, calls the extractor, and maps
// transcript keys back to utterance IDs before persisting the facts.
func (p *Pipeline) stageExtract(ctx context.Context, st *state) error {
	ing, err := p.ensureIngest(ctx, st)
	if err != nil {
		return err
	}
	em, err := p.entityMap(ctx, st.campaign.ID)
	if err != nil {
		return err
	}
	participants, err := p.store.ListParticipants(ctx, st.campaign.ID)
	if err != nil {
		return err
	}
	speakerNames := make(map[string]string, len(participants))
	for _, pt := range participants {
		speakerNames[pt.ID] = pt.DisplayName
	}

	text, keyToID := transcript.Format(ing.Utterances, speakerNames, ing.CharacterMap)
	text = tokens.TruncateToBudget(text, p.opts.MaxPromptTokens)

	facts, _, err := p.extractor.ExtractFacts(ctx, extract.FactsRequest{
		CampaignName: ing.Campaign.Name,
		SessionSlug:  st.session.Slug,
		Transcript:   text,
		Canonical:    em.Snapshot(),
	})
	if err != nil {
		return err
	}
	transcript.MapFactIDs(facts, keyToID)

	payload, err := json.Marshal(facts)
	if err != nil {
		return err
	}
	if err := p.saveExtraction(ctx, st, KindFacts, extract.FactsPromptID, payload); err != nil {
		return err
	}
	st.facts = facts
	return nil
}

// stagePersist validates evidence, drops or repairs what it must, and
// writes mention, scene, event, and quote rows. Dropped work is counted,
// never silently discarded.
func (p *Pipeline) stagePersist(ctx context.Context, st *state) error {
	facts, err := p.ensureFacts(ctx, st)
	if err != nil {
		return err
	}
	ing, err := p.ensureIngest(ctx, st)
	if err != nil {
		return err
	}
	lookup := make(map[string]string, len(ing.Utterances))
	for _, u := range ing.Utterances {
		lookup[u.ID] = u.Text
	}

	var counters models.QualityCounters
	clean := func(spans []models.EvidenceSpan) []models.EvidenceSpan {
		out, repaired, dropped := evidence.CleanSpans(spans, lookup)
		counters.EvidenceRepaired += repaired
		counters.EvidenceDropped += dropped
		return out
	}

	mentions := make([]models.Mention, 0, len(facts.Mentions))
	for i := range facts.Mentions {
		rm := &facts.Mentions[i]
		rm.Evidence = clean(rm.Evidence)
		rm.Description = sanitize.Note(rm.Description)
		mentions = append(mentions, models.Mention{
			ID:          uuid.NewString(),
			RunID:       st.run.ID,
			SessionID:   st.session.ID,
			Text:        rm.Text,
			EntityType:  rm.EntityType,
			Description: rm.Description,
			Evidence:    rm.Evidence,
			Confidence:  rm.Confidence,
		})
	}

	scenes := make([]models.Scene, 0, len(facts.Scenes))
	for i := range facts.Scenes {
		rs := &facts.Scenes[i]
		rs.Evidence = clean(rs.Evidence)
		scenes = append(scenes, models.Scene{
			ID:           uuid.NewString(),
			RunID:        st.run.ID,
			SessionID:    st.session.ID,
			Title:        rs.Title,
			Summary:      sanitize.Note(rs.Summary),
			Location:     rs.Location,
			StartMS:      rs.StartMS,
			EndMS:        rs.EndMS,
			Participants: rs.Participants,
			Evidence:     rs.Evidence,
		})
	}

	events := make([]models.Event, 0, len(facts.Events))
	eventIDs := make([]string, 0, len(facts.Events))
	for i := range facts.Events {
		re := &facts.Events[i]
		re.Evidence = clean(re.Evidence)
		id := uuid.NewString()
		eventIDs = append(eventIDs, id)
		events = append(events, models.Event{
			ID:         id,
			RunID:      st.run.ID,
			SessionID:  st.session.ID,
			EventType:  re.EventType,
			Summary:    sanitize.Note(re.Summary),
			StartMS:    re.StartMS,
			EndMS:      re.EndMS,
			Entities:   re.Entities,
			Evidence:   re.Evidence,
			Confidence: re.Confidence,
		})
	}

	for i := range facts.Threads {
		tc := &facts.Threads[i]
		tc.Evidence = clean(tc.Evidence)
		tc.Summary = sanitize.Note(tc.Summary)
		for j := range tc.Updates {
			tc.Updates[j].Evidence = clean(tc.Updates[j].Evidence)
			tc.Updates[j].Note = sanitize.Note(tc.Updates[j].Note)
		}
	}

	quotes := make([]models.Quote, 0, len(facts.Quotes))
	for _, qc := range facts.Quotes {
		text, exists := lookup[qc.UtteranceID]
		qr := evidence.ValidateQuote(qc, text, exists)
		switch qr.Verdict {
		case evidence.VerdictDropped:
			counters.QuotesDropped++
			logging.Debug("quote dropped", "utterance", qc.UtteranceID, "reason", qr.Reason)
			continue
		case evidence.VerdictRepaired:
			counters.EvidenceRepaired++
		}
		if qr.Quote.CharStart == nil || qr.Quote.CharEnd == nil {
			counters.QuotesDropped++
			continue
		}
		quotes = append(quotes, models.Quote{
			ID:          uuid.NewString(),
			RunID:       st.run.ID,
			SessionID:   st.session.ID,
			UtteranceID: qr.Quote.UtteranceID,
			CharStart:   *qr.Quote.CharStart,
			CharEnd:     *qr.Quote.CharEnd,
			Text:        qr.Quote.Text,
			Speaker:     qr.Quote.Speaker,
			Note:        sanitize.Note(qr.Quote.Note),
		})
	}

	if err := p.store.SaveMentions(ctx, mentions); err != nil {
		return err
	}
	if err := p.store.SaveScenes(ctx, scenes); err != nil {
		return err
	}
	if err := p.store.SaveEvents(ctx, events); err != nil {
		return err
	}
	if err := p.store.SaveQuotes(ctx, quotes); err != nil {
		return err
	}

	cleanPayload, err := json.Marshal(facts)
	if err != nil {
		return err
	}
	if err := p.saveExtraction(ctx, st, KindCleanFacts, "", cleanPayload); err != nil {
		return err
	}
	idx := &persistIndex{EventIDs: eventIDs, Counters: counters}
	idxPayload, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	if err := p.saveExtraction(ctx, st, KindPersistIndex, "", idxPayload); err != nil {
		return err
	}

	st.facts = facts
	st.mentions = mentions
	st.quotes = quotes
	st.index = idx
	return nil
}

// stageResolve resolves mentions and thread candidates against the
// canonical maps and writes the quality report.
func (p *Pipeline) stageResolve(ctx context.Context, st *state) error {
	facts, err := p.ensureCleanFacts(ctx, st)
	if err != nil {
		return err
	}
	idx, err := p.ensureIndex(ctx, st)
	if err != nil {
		return err
	}
	mentions := st.mentions
	if mentions == nil {
		mentions, err = p.store.ListMentions(ctx, st.run.ID)
		if err != nil {
			return err
		}
	}
	em, err := p.entityMap(ctx, st.campaign.ID)
	if err != nil {
		return err
	}
	threads, err := p.store.ListThreads(ctx, st.campaign.ID)
	if err != nil {
		return err
	}
	corrections, err := p.store.ListCorrections(ctx, st.campaign.ID)
	if err != nil {
		return err
	}
	tm := canonical.BuildThreadMap(threads, corrections)

	engine := resolve.NewEngine(p.store)
	res := &resolve.Result{Counters: idx.Counters}
	if err := engine.ResolveMentions(ctx, st.campaign.ID, mentions, em, res); err != nil {
		return err
	}
	resolved := resolve.CanonicalizeFacts(*facts, em, &res.Counters)
	if err := engine.ResolveThreads(ctx, st.campaign.ID, st.run.ID, st.session.ID,
		resolved.Threads, idx.EventIDs, tm, res); err != nil {
		return err
	}

	resolvedPayload, err := json.Marshal(&resolved)
	if err != nil {
		return err
	}
	if err := p.saveExtraction(ctx, st, KindResolvedFacts, "", resolvedPayload); err != nil {
		return err
	}
	report := QualityReport{Counters: res.Counters, AliasCollisions: res.AliasCollisions}
	reportPayload, err := json.Marshal(&report)
	if err != nil {
		return err
	}
	if err := p.saveExtraction(ctx, st, KindQualityReport, "", reportPayload); err != nil {
		return err
	}
	st.resolved = &resolved
	return nil
}

func (p *Pipeline) stagePlan(ctx context.Context, st *state) error {
	facts, err := p.ensureResolvedFacts(ctx, st)
	if err != nil {
		return err
	}
	quotes, err := p.ensureQuotes(ctx, st)
	if err != nil {
		return err
	}
	plan, _, err := p.extractor.PlanSummary(ctx, extract.PlanRequest{
		CampaignName: st.campaign.Name,
		SessionSlug:  st.session.Slug,
		Facts:        facts,
		Quotes:       quotes,
	})
	if err != nil {
		return err
	}
	payload, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	if err := p.saveExtraction(ctx, st, KindPlan, extract.PlanPromptID, payload); err != nil {
		return err
	}
	st.plan = plan
	return nil
}

func (p *Pipeline) stageWrite(ctx context.Context, st *state) error {
	plan, err := p.ensurePlan(ctx, st)
	if err != nil {
		return err
	}
	facts, err := p.ensureResolvedFacts(ctx, st)
	if err != nil {
		return err
	}
	quotes, err := p.ensureQuotes(ctx, st)
	if err != nil {
		return err
	}
	narrative, _, err := p.extractor.WriteNarrative(ctx, extract.NarrativeRequest{
		CampaignName: st.campaign.Name,
		SessionSlug:  st.session.Slug,
		Plan:         plan,
		Facts:        facts,
		Quotes:       quotes,
	})
	if err != nil {
		return err
	}
	payload, err := json.Marshal(narrativeEnvelope{Narrative: narrative})
	if err != nil {
		return err
	}
	if err := p.saveExtraction(ctx, st, KindNarrative, extract.NarrativePromptID, payload); err != nil {
		return err
	}
	st.narrative = narrative
	return nil
}

// stageRender writes the markdown artifact and records it.
func (p *Pipeline) stageRender(ctx context.Context, st *state) error {
	narrative, err := p.ensureNarrative(ctx, st)
	if err != nil {
		return err
	}
	quotes, err := p.ensureQuotes(ctx, st)
	if err != nil {
		return err
	}
	dir := filepath.Join(store.ArtifactsDir(p.opts.Root), st.campaign.Slug)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, st.session.Slug+".md")
	content := renderMarkdown(st.campaign, st.session, narrative, quotes)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return err
	}
	return p.store.SaveArtifact(ctx, &models.Artifact{
		ID:        uuid.NewString(),
		RunID:     st.run.ID,
		SessionID: st.session.ID,
		Kind:      ArtifactSessionSummary,
		Path:      path,
		CreatedAt: time.Now().UTC(),
	})
}

// entityMap folds the campaign's entities, aliases, and corrections into
// the canonical entity map.
func (p *Pipeline) entityMap(ctx context.Context, campaignID string) (*canonical.EntityMap, error) {
	entities, err := p.store.ListEntities(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	aliases, err := p.store.ListEntityAliases(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	corrections, err := p.store.ListCorrections(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return canonical.BuildEntityMap(entities, aliases, corrections), nil
}

func (p *Pipeline) ensureIngest(ctx context.Context, st *state) (*transcript.IngestResult, error) {
	if st.ingest != nil {
		return st.ingest, nil
	}
	utterances, err := p.store.ListUtterances(ctx, st.session.ID)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadCampaign(p.opts.Root, st.campaign.Slug)
	if err != nil {
		return nil, err
	}
	st.ingest = &transcript.IngestResult{
		Campaign:       *st.campaign,
		Session:        *st.session,
		TranscriptHash: st.run.TranscriptHash,
		Utterances:     utterances,
		CharacterMap:   cfg.CharacterMap(),
	}
	return st.ingest, nil
}

func (p *Pipeline) ensureFacts(ctx context.Context, st *state) (*models.SessionFacts, error) {
	if st.facts != nil {
		return st.facts, nil
	}
	var facts models.SessionFacts
	if err := p.loadJSON(ctx, st.run.ID, KindFacts, &facts); err != nil {
		return nil, err
	}
	st.facts = &facts
	return st.facts, nil
}

func (p *Pipeline) ensureCleanFacts(ctx context.Context, st *state) (*models.SessionFacts, error) {
	if st.facts != nil && st.index != nil {
		return st.facts, nil
	}
	var facts models.SessionFacts
	if err := p.loadJSON(ctx, st.run.ID, KindCleanFacts, &facts); err != nil {
		return nil, err
	}
	st.facts = &facts
	return st.facts, nil
}

func (p *Pipeline) ensureIndex(ctx context.Context, st *state) (*persistIndex, error) {
	if st.index != nil {
		return st.index, nil
	}
	var idx persistIndex
	if err := p.loadJSON(ctx, st.run.ID, KindPersistIndex, &idx); err != nil {
		return nil, err
	}
	st.index = &idx
	return st.index, nil
}

func (p *Pipeline) ensureResolvedFacts(ctx context.Context, st *state) (*models.SessionFacts, error) {
	if st.resolved != nil {
		return st.resolved, nil
	}
	var facts models.SessionFacts
	if err := p.loadJSON(ctx, st.run.ID, KindResolvedFacts, &facts); err != nil {
		return nil, err
	}
	st.resolved = &facts
	return st.resolved, nil
}

func (p *Pipeline) ensurePlan(ctx context.Context, st *state) (*models.SummaryPlan, error) {
	if st.plan != nil {
		return st.plan, nil
	}
	var plan models.SummaryPlan
	if err := p.loadJSON(ctx, st.run.ID, KindPlan, &plan); err != nil {
		return nil, err
	}
	st.plan = &plan
	return st.plan, nil
}

func (p *Pipeline) ensureNarrative(ctx context.Context, st *state) (string, error) {
	if st.narrative != "" {
		return st.narrative, nil
	}
	var env narrativeEnvelope
	if err := p.loadJSON(ctx, st.run.ID, KindNarrative, &env); err != nil {
		return "", err
	}
	st.narrative = env.Narrative
	return st.narrative, nil
}

func (p *Pipeline) ensureQuotes(ctx context.Context, st *state) ([]models.Quote, error) {
	if st.quotes != nil {
		return st.quotes, nil
	}
	all, err := p.store.ListQuotes(ctx, st.session.ID)
	if err != nil {
		return nil, err
	}
	quotes := make([]models.Quote, 0, len(all))
	for _, q := range all {
		if q.RunID == st.run.ID {
			quotes = append(quotes, q)
		}
	}
	st.quotes = quotes
	return st.quotes, nil
}

func (p *Pipeline) saveExtraction(ctx context.Context, st *state, kind, promptID string, payload []byte) error {
	return p.store.SaveExtraction(ctx, &models.Extraction{
		ID:            uuid.NewString(),
		RunID:         st.run.ID,
		SessionID:     st.session.ID,
		Kind:          kind,
		Model:         p.opts.Model,
		PromptID:      promptID,
		PromptVersion: p.opts.PromptVersion,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	})
}

func (p *Pipeline) loadJSON(ctx context.Context, runID, kind string, v any) error {
	ex, err := p.store.GetExtraction(ctx, runID, kind)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(ex.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s extraction: %w", kind, err)
	}
	return nil
}

// ReadQualityReport loads the quality report for a run, if one was
// written.
func ReadQualityReport(ctx context.Context, s *store.Store, runID string) (*QualityReport, error) {
	ex, err := s.GetExtraction(ctx, runID, KindQualityReport)
	if err != nil {
		return nil, err
	}
	var report QualityReport
	if err := json.Unmarshal(ex.Payload, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
