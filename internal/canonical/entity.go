package canonical

import (
	"sort"

	"lorekeeper/internal/models"
)

// EntityMap is the derived entity-side canonical map. All lookups are by
// normalized key (see NormalizeKey). The map is immutable after Build.
type EntityMap struct {
	// canonicalName maps entity id -> current canonical display name.
	canonicalName map[string]string

	// aliasToID maps normalized name key -> entity id after merge-chain
	// collapse.
	aliasToID map[string]string

	// aliasesByID maps entity id -> sorted alias display strings.
	aliasesByID map[string][]string

	// hiddenIDs are entity ids excluded from all live lookups.
	hiddenIDs map[string]bool

	// mergeMap holds raw merge pointers, source id -> target id.
	mergeMap map[string]string

	// removedAliases maps normalized key -> entity id the alias was
	// explicitly removed from. Consulted when resolution wants to attach
	// that alias to a different entity.
	removedAliases map[string]string

	// nameToCanonical maps normalized key -> canonical display name for
	// live entities only.
	nameToCanonical map[string]string

	// hiddenNames are normalized keys whose resolution lands on a hidden
	// entity. Fail-closed: these names never produce a live entity.
	hiddenNames map[string]bool

	// correctedIDs are entity ids whose canonical value differs from its
	// original extracted value.
	correctedIDs map[string]bool
}

// ResolveID follows merge pointers to a fixed point. Cycles cannot be
// approved into the ledger; if one is present anyway the walk stops before
// revisiting a node, which keeps the result deterministic.
func (m *EntityMap) ResolveID(entityID string) string {
	seen := map[string]bool{}
	current := entityID
	for {
		next, ok := m.mergeMap[current]
		if !ok || seen[current] {
			return current
		}
		seen[current] = true
		current = next
	}
}

// ResolveName resolves a raw name to a live entity id.
// hidden is true when the name is recognized but suppressed; such names
// must never be re-created.
func (m *EntityMap) ResolveName(name string) (id string, hidden, ok bool) {
	key := NormalizeKey(name)
	if m.hiddenNames[key] {
		return "", true, false
	}
	id, ok = m.aliasToID[key]
	if !ok {
		return "", false, false
	}
	return id, false, true
}

// CanonicalName returns the current canonical display name for an entity id,
// following merge pointers first.
func (m *EntityMap) CanonicalName(entityID string) (string, bool) {
	name, ok := m.canonicalName[m.ResolveID(entityID)]
	return name, ok
}

// Aliases returns the sorted alias display names recorded for an entity.
func (m *EntityMap) Aliases(entityID string) []string {
	return m.aliasesByID[entityID]
}

// Hidden reports whether the entity id is suppressed.
func (m *EntityMap) Hidden(entityID string) bool {
	return m.hiddenIDs[entityID]
}

// MergedInto returns the direct merge target for an entity id, if any.
func (m *EntityMap) MergedInto(entityID string) (string, bool) {
	target, ok := m.mergeMap[entityID]
	return target, ok
}

// Corrected reports whether approved corrections changed this entity.
func (m *EntityMap) Corrected(entityID string) bool {
	return m.correctedIDs[entityID]
}

// RemovedAliasOwner returns the entity an alias was explicitly removed
// from. Resolution consults this before attaching the alias elsewhere.
func (m *EntityMap) RemovedAliasOwner(name string) (string, bool) {
	id, ok := m.removedAliases[NormalizeKey(name)]
	return id, ok
}

// Snapshot is the deterministic serializable view handed to the extractor
// so it can emit canonical names directly. Keys are sorted.
type Snapshot struct {
	NameToCanonical map[string]string `json:"name_to_canonical"`
	HiddenNames     []string          `json:"hidden_names"`
}

// Snapshot returns the extractor-facing view of the map.
func (m *EntityMap) Snapshot() Snapshot {
	names := make(map[string]string, len(m.nameToCanonical))
	for k, v := range m.nameToCanonical {
		names[k] = v
	}
	hidden := make([]string, 0, len(m.hiddenNames))
	for k := range m.hiddenNames {
		hidden = append(hidden, k)
	}
	sort.Strings(hidden)
	return Snapshot{NameToCanonical: names, HiddenNames: hidden}
}

// Annotate fills the derived fields of each entity from the map: the
// corrected canonical name, aliases, hidden and merged state. Stored rows
// are never mutated; this is a read-path view.
func (m *EntityMap) Annotate(entities []models.Entity) []models.Entity {
	out := make([]models.Entity, len(entities))
	for i, e := range entities {
		if name, ok := m.CanonicalName(e.ID); ok {
			e.CanonicalName = name
		}
		e.Aliases = m.Aliases(e.ID)
		e.Hidden = m.Hidden(e.ID)
		if into, ok := m.MergedInto(e.ID); ok {
			e.MergedInto = into
		}
		e.Corrected = m.Corrected(e.ID)
		out[i] = e
	}
	return out
}

// BuildEntityMap folds approved entity corrections, ordered by
// (created_at, seq), over the base entity and alias records. Later approved
// corrections win for the same field; merge and hide take precedence over
// rename regardless of order, because hidden status is applied to the
// resolved id after the fold.
func BuildEntityMap(entities []models.Entity, aliases []models.EntityAlias, corrections []models.Correction) *EntityMap {
	m := &EntityMap{
		canonicalName:   make(map[string]string, len(entities)),
		aliasToID:       make(map[string]string, len(entities)+len(aliases)),
		aliasesByID:     make(map[string][]string),
		hiddenIDs:       make(map[string]bool),
		mergeMap:        make(map[string]string),
		removedAliases:  make(map[string]string),
		nameToCanonical: make(map[string]string),
		hiddenNames:     make(map[string]bool),
		correctedIDs:    make(map[string]bool),
	}

	sorted := make([]models.Entity, len(entities))
	copy(sorted, entities)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, e := range sorted {
		m.canonicalName[e.ID] = e.CanonicalName
		m.aliasToID[NormalizeKey(e.CanonicalName)] = e.ID
	}
	for _, a := range sortedAliases(aliases) {
		m.aliasToID[NormalizeKey(a.Alias)] = a.EntityID
		m.aliasesByID[a.EntityID] = append(m.aliasesByID[a.EntityID], a.Alias)
	}

	for _, c := range SortCorrections(corrections) {
		if !c.Effective() || c.TargetType != models.TargetEntity {
			continue
		}
		m.applyEntityCorrection(c)
	}

	m.finalize()
	return m
}

func (m *EntityMap) applyEntityCorrection(c models.Correction) {
	switch c.Action {
	case models.ActionEntityRename:
		newName := c.Payload.Name
		oldName, known := m.canonicalName[c.TargetID]
		if newName == "" || !known {
			return
		}
		m.canonicalName[c.TargetID] = newName
		// The previous canonical name joins the alias set.
		m.aliasToID[NormalizeKey(oldName)] = c.TargetID
		m.aliasToID[NormalizeKey(newName)] = c.TargetID
		m.addAlias(c.TargetID, oldName)
		m.correctedIDs[c.TargetID] = true

	case models.ActionEntityAliasAdd:
		if c.Payload.Alias == "" {
			return
		}
		key := NormalizeKey(c.Payload.Alias)
		m.aliasToID[key] = c.TargetID
		m.addAlias(c.TargetID, c.Payload.Alias)
		delete(m.removedAliases, key)
		m.correctedIDs[c.TargetID] = true

	case models.ActionEntityAliasRemove:
		if c.Payload.Alias == "" {
			return
		}
		key := NormalizeKey(c.Payload.Alias)
		// Removing the live canonical name is rejected at submission;
		// skip defensively if one slipped through.
		if key == NormalizeKey(m.canonicalName[c.TargetID]) {
			return
		}
		if m.aliasToID[key] == c.TargetID {
			delete(m.aliasToID, key)
		}
		m.dropAlias(c.TargetID, c.Payload.Alias)
		m.removedAliases[key] = c.TargetID
		m.correctedIDs[c.TargetID] = true

	case models.ActionEntityMerge:
		if c.Payload.IntoID == "" || c.Payload.IntoID == c.TargetID {
			return
		}
		m.mergeMap[c.TargetID] = c.Payload.IntoID
		m.correctedIDs[c.TargetID] = true
		m.correctedIDs[c.Payload.IntoID] = true

	case models.ActionEntityUnmerge:
		delete(m.mergeMap, c.TargetID)
		m.correctedIDs[c.TargetID] = true

	case models.ActionEntityHide:
		m.hiddenIDs[c.TargetID] = true
		m.correctedIDs[c.TargetID] = true

	case models.ActionEntityUnhide:
		delete(m.hiddenIDs, c.TargetID)
		m.correctedIDs[c.TargetID] = true
	}
}

// finalize collapses merge chains in the name index and splits names into
// live and hidden. Runs once, after the fold.
func (m *EntityMap) finalize() {
	resolved := make(map[string]string, len(m.aliasToID))
	for key, id := range m.aliasToID {
		resolved[key] = m.ResolveID(id)
	}
	m.aliasToID = resolved

	for key, id := range m.aliasToID {
		if m.hiddenIDs[id] {
			m.hiddenNames[key] = true
			continue
		}
		if name, ok := m.canonicalName[id]; ok {
			m.nameToCanonical[key] = name
		}
	}
	// Canonical names that were renamed away still resolve; hidden
	// entities contribute hidden names even when no alias row exists.
	ids := make([]string, 0, len(m.canonicalName))
	for id := range m.canonicalName {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		key := NormalizeKey(m.canonicalName[id])
		if m.hiddenIDs[m.ResolveID(id)] {
			m.hiddenNames[key] = true
			delete(m.nameToCanonical, key)
			continue
		}
		if _, ok := m.nameToCanonical[key]; !ok {
			m.nameToCanonical[key] = m.canonicalName[m.ResolveID(id)]
		}
	}

	for id := range m.aliasesByID {
		sort.Strings(m.aliasesByID[id])
	}
}

func (m *EntityMap) addAlias(entityID, alias string) {
	for _, a := range m.aliasesByID[entityID] {
		if NormalizeKey(a) == NormalizeKey(alias) {
			return
		}
	}
	m.aliasesByID[entityID] = append(m.aliasesByID[entityID], alias)
}

func (m *EntityMap) dropAlias(entityID, alias string) {
	kept := m.aliasesByID[entityID][:0]
	for _, a := range m.aliasesByID[entityID] {
		if NormalizeKey(a) != NormalizeKey(alias) {
			kept = append(kept, a)
		}
	}
	m.aliasesByID[entityID] = kept
}

func sortedAliases(aliases []models.EntityAlias) []models.EntityAlias {
	out := make([]models.EntityAlias, len(aliases))
	copy(out, aliases)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SortCorrections orders corrections by the ledger's total order:
// created_at ascending, insertion sequence as tiebreaker.
func SortCorrections(corrections []models.Correction) []models.Correction {
	out := make([]models.Correction, len(corrections))
	copy(out, corrections)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// DetectMergeCycle reports whether adding source -> target would close a
// cycle given the existing merge pointers. Used at approval time so cycles
// never enter the ledger's approved subset.
func DetectMergeCycle(mergeMap map[string]string, source, target string) bool {
	if source == target {
		return true
	}
	seen := map[string]bool{source: true}
	current := target
	for {
		if seen[current] {
			return true
		}
		seen[current] = true
		next, ok := mergeMap[current]
		if !ok {
			return false
		}
		current = next
	}
}
