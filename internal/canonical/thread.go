package canonical

import (
	"sort"

	"lorekeeper/internal/models"
)

// ThreadOverride holds the corrected field values for one thread. Empty
// fields mean no override. Set tracks which fields were touched so an
// override can clear a summary to empty.
type ThreadOverride struct {
	Status     string
	Title      string
	Summary    string
	SummarySet bool
}

// ThreadMap is the derived thread-side canonical map, mirroring EntityMap:
// title lookups, hidden set, merge-pointer resolution. Thread merges
// additionally hide the source thread.
type ThreadMap struct {
	titleByID map[string]string
	titleToID map[string]string
	overrides map[string]ThreadOverride
	hiddenIDs map[string]bool
	mergeMap  map[string]string

	correctedIDs map[string]bool
}

// ResolveID follows merge pointers to a fixed point, same discipline as
// the entity map.
func (m *ThreadMap) ResolveID(threadID string) string {
	seen := map[string]bool{}
	current := threadID
	for {
		next, ok := m.mergeMap[current]
		if !ok || seen[current] {
			return current
		}
		seen[current] = true
		current = next
	}
}

// ResolveTitle resolves a raw thread title to a live thread id.
func (m *ThreadMap) ResolveTitle(title string) (id string, hidden, ok bool) {
	key := NormalizeKey(title)
	id, ok = m.titleToID[key]
	if !ok {
		return "", false, false
	}
	id = m.ResolveID(id)
	if m.hiddenIDs[id] {
		return "", true, false
	}
	return id, false, true
}

// Hidden reports whether the thread id is suppressed.
func (m *ThreadMap) Hidden(threadID string) bool {
	return m.hiddenIDs[threadID]
}

// MergedInto returns the direct merge target for a thread id, if any.
func (m *ThreadMap) MergedInto(threadID string) (string, bool) {
	target, ok := m.mergeMap[threadID]
	return target, ok
}

// Override returns the corrected fields for a thread id.
func (m *ThreadMap) Override(threadID string) (ThreadOverride, bool) {
	o, ok := m.overrides[threadID]
	return o, ok
}

// Corrected reports whether approved corrections changed this thread.
func (m *ThreadMap) Corrected(threadID string) bool {
	return m.correctedIDs[threadID]
}

// Apply returns the thread with approved overrides and soft states folded
// in, for read paths.
func (m *ThreadMap) Apply(t models.Thread) models.Thread {
	if o, ok := m.overrides[t.ID]; ok {
		if o.Status != "" {
			t.Status = o.Status
		}
		if o.Title != "" {
			t.Title = o.Title
		}
		if o.SummarySet {
			t.Summary = o.Summary
		}
	}
	t.Hidden = m.hiddenIDs[t.ID]
	if target, ok := m.mergeMap[t.ID]; ok {
		t.MergedInto = target
	}
	t.Corrected = m.correctedIDs[t.ID]
	return t
}

// BuildThreadMap folds approved thread corrections over the base thread
// records, in (created_at, seq) order. Later corrections win per field;
// a merge hides the source thread.
func BuildThreadMap(threads []models.Thread, corrections []models.Correction) *ThreadMap {
	m := &ThreadMap{
		titleByID:    make(map[string]string, len(threads)),
		titleToID:    make(map[string]string, len(threads)),
		overrides:    make(map[string]ThreadOverride),
		hiddenIDs:    make(map[string]bool),
		mergeMap:     make(map[string]string),
		correctedIDs: make(map[string]bool),
	}

	sorted := make([]models.Thread, len(threads))
	copy(sorted, threads)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, t := range sorted {
		m.titleByID[t.ID] = t.Title
		key := NormalizeKey(t.Title)
		if _, ok := m.titleToID[key]; !ok {
			m.titleToID[key] = t.ID
		}
	}

	for _, c := range SortCorrections(corrections) {
		if !c.Effective() || c.TargetType != models.TargetThread {
			continue
		}
		m.applyThreadCorrection(c)
	}

	return m
}

func (m *ThreadMap) applyThreadCorrection(c models.Correction) {
	switch c.Action {
	case models.ActionThreadStatus:
		if c.Payload.Status == "" {
			return
		}
		o := m.overrides[c.TargetID]
		o.Status = c.Payload.Status
		m.overrides[c.TargetID] = o
		m.correctedIDs[c.TargetID] = true

	case models.ActionThreadTitle:
		if c.Payload.Title == "" {
			return
		}
		o := m.overrides[c.TargetID]
		o.Title = c.Payload.Title
		m.overrides[c.TargetID] = o
		// The corrected title also resolves to this thread.
		m.titleToID[NormalizeKey(c.Payload.Title)] = c.TargetID
		m.correctedIDs[c.TargetID] = true

	case models.ActionThreadSummary:
		o := m.overrides[c.TargetID]
		o.Summary = c.Payload.Summary
		o.SummarySet = true
		m.overrides[c.TargetID] = o
		m.correctedIDs[c.TargetID] = true

	case models.ActionThreadMerge:
		if c.Payload.IntoID == "" || c.Payload.IntoID == c.TargetID {
			return
		}
		m.mergeMap[c.TargetID] = c.Payload.IntoID
		// Thread merge hides the source.
		m.hiddenIDs[c.TargetID] = true
		m.correctedIDs[c.TargetID] = true
		m.correctedIDs[c.Payload.IntoID] = true

	case models.ActionThreadUnmerge:
		delete(m.mergeMap, c.TargetID)
		delete(m.hiddenIDs, c.TargetID)
		m.correctedIDs[c.TargetID] = true

	case models.ActionThreadHide:
		m.hiddenIDs[c.TargetID] = true
		m.correctedIDs[c.TargetID] = true

	case models.ActionThreadUnhide:
		delete(m.hiddenIDs, c.TargetID)
		m.correctedIDs[c.TargetID] = true
	}
}
