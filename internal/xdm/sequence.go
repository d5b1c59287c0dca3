package xdm

// Sequence is an ordered collection of items.
//
// Two kinds exist: constructed sequences (ValueSequence) carry plain values
// with no identity, and persistent node sets (see dom) carry live node
// identities. IsPersistentSet distinguishes them.
type Sequence interface {
	// Len returns the number of items.
	Len() int

	// ItemAt returns the item at 0-based position i.
	ItemAt(i int) Item

	// ItemType returns the most specific type common to all items,
	// TypeEmpty for an empty sequence.
	ItemType() Type

	// IsPersistentSet reports whether the sequence is backed by stored
	// node identities.
	IsPersistentSet() bool
}

// Items copies the items of seq into a slice.
func Items(seq Sequence) []Item {
	if seq == nil {
		return nil
	}
	out := make([]Item, seq.Len())
	for i := range out {
		out[i] = seq.ItemAt(i)
	}
	return out
}

// ValueSequence is a constructed sequence with no identity semantics.
type ValueSequence struct {
	items    []Item
	itemType Type
}

// Empty is the empty sequence.
var Empty Sequence = &ValueSequence{}

// NewValueSequence creates a sequence holding items in order.
func NewValueSequence(items ...Item) *ValueSequence {
	vs := &ValueSequence{items: make([]Item, 0, len(items))}
	for _, it := range items {
		vs.Add(it)
	}
	return vs
}

// Single wraps one item as a sequence.
func Single(item Item) Sequence {
	return NewValueSequence(item)
}

// Add appends an item.
func (vs *ValueSequence) Add(item Item) {
	vs.items = append(vs.items, item)
	vs.itemType = CommonSupertype(vs.itemType, item.ItemType())
}

// AddAll appends every item of seq.
func (vs *ValueSequence) AddAll(seq Sequence) {
	if seq == nil {
		return
	}
	for i := 0; i < seq.Len(); i++ {
		vs.Add(seq.ItemAt(i))
	}
}

// Len implements Sequence.
func (vs *ValueSequence) Len() int { return len(vs.items) }

// ItemAt implements Sequence.
func (vs *ValueSequence) ItemAt(i int) Item { return vs.items[i] }

// ItemType implements Sequence.
func (vs *ValueSequence) ItemType() Type { return vs.itemType }

// IsPersistentSet implements Sequence.
func (vs *ValueSequence) IsPersistentSet() bool { return false }
