package dom

// ContextEntry records that, for the evaluation context ContextID, the
// annotated node was produced from the context node Node.
type ContextEntry struct {
	ContextID int
	Node      NodeKey
}

// Trail is the list of context annotations attached to a node result.
//
// Entries live in a flat slice and refer to context nodes by key, never by
// pointer, so a trail can be cleared or copied without breaking cycles.
// Trails are additive: Add never removes entries for other context ids,
// which lets one node answer "which iteration produced me" for several
// nested bindings at once. A (ContextID, Node) pair appears at most once.
type Trail struct {
	entries []ContextEntry
}

// Add attaches the pair (contextID, node). Returns false if the pair was
// already present.
func (t *Trail) Add(contextID int, node NodeKey) bool {
	for _, e := range t.entries {
		if e.ContextID == contextID && e.Node == node {
			return false
		}
	}
	t.entries = append(t.entries, ContextEntry{ContextID: contextID, Node: node})
	return true
}

// CopyFrom adds every entry of other.
func (t *Trail) CopyFrom(other *Trail) {
	if other == nil {
		return
	}
	for _, e := range other.entries {
		t.Add(e.ContextID, e.Node)
	}
}

// Clear removes all entries for contextID and returns how many were removed.
func (t *Trail) Clear(contextID int) int {
	kept := t.entries[:0]
	removed := 0
	for _, e := range t.entries {
		if e.ContextID == contextID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	// Drop references held by the tail of the reused backing array.
	for i := len(kept); i < len(t.entries); i++ {
		t.entries[i] = ContextEntry{}
	}
	t.entries = kept
	return removed
}

// Matching returns the context nodes recorded for contextID, in the order
// they were added.
func (t *Trail) Matching(contextID int) []NodeKey {
	var out []NodeKey
	for _, e := range t.entries {
		if e.ContextID == contextID {
			out = append(out, e.Node)
		}
	}
	return out
}

// Has reports whether any entry exists for contextID.
func (t *Trail) Has(contextID int) bool {
	for _, e := range t.entries {
		if e.ContextID == contextID {
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (t *Trail) Len() int {
	return len(t.entries)
}

// Entries returns a copy of all entries.
func (t *Trail) Entries() []ContextEntry {
	out := make([]ContextEntry, len(t.entries))
	copy(out, t.entries)
	return out
}
