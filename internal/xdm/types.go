package xdm

import (
	"fmt"

	"github.com/roach88/xcore/internal/xerr"
)

// Type identifies an item type in the type hierarchy:
//
//	item()
//	├── node()
//	│   ├── document-node()
//	│   ├── element()
//	│   ├── attribute()
//	│   └── text()
//	└── xs:anyAtomicType
//	    ├── xs:string
//	    ├── xs:integer
//	    └── xs:boolean
type Type int

const (
	TypeEmpty Type = iota
	TypeItem
	TypeNode
	TypeDocument
	TypeElement
	TypeAttribute
	TypeText
	TypeAtomic
	TypeString
	TypeInteger
	TypeBoolean
)

var typeNames = map[Type]string{
	TypeEmpty:     "empty-sequence()",
	TypeItem:      "item()",
	TypeNode:      "node()",
	TypeDocument:  "document-node()",
	TypeElement:   "element()",
	TypeAttribute: "attribute()",
	TypeText:      "text()",
	TypeAtomic:    "xs:anyAtomicType",
	TypeString:    "xs:string",
	TypeInteger:   "xs:integer",
	TypeBoolean:   "xs:boolean",
}

// String returns the type name as written in sequence types.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// parent returns the direct supertype. item() is its own parent.
func (t Type) parent() Type {
	switch t {
	case TypeDocument, TypeElement, TypeAttribute, TypeText:
		return TypeNode
	case TypeString, TypeInteger, TypeBoolean:
		return TypeAtomic
	default:
		return TypeItem
	}
}

// SubtypeOf reports whether t is super or one of its descendants.
// The empty type is a subtype of everything.
func (t Type) SubtypeOf(super Type) bool {
	if t == TypeEmpty || super == TypeItem || t == super {
		return true
	}
	if super == TypeEmpty {
		return false
	}
	for cur := t; cur != TypeItem; cur = cur.parent() {
		if cur == super {
			return true
		}
	}
	return false
}

// IsNode reports whether t is node() or one of its subtypes.
func (t Type) IsNode() bool {
	return t != TypeEmpty && t.SubtypeOf(TypeNode)
}

// CommonSupertype returns the most specific type that both a and b are
// subtypes of.
func CommonSupertype(a, b Type) Type {
	if a == TypeEmpty {
		return b
	}
	if b == TypeEmpty {
		return a
	}
	for cur := a; ; cur = cur.parent() {
		if b.SubtypeOf(cur) {
			return cur
		}
		if cur == TypeItem {
			return TypeItem
		}
	}
}

// Cardinality constrains the number of items in a sequence.
type Cardinality int

const (
	ExactlyOne Cardinality = iota
	ZeroOrOne
	ZeroOrMore
	OneOrMore
	EmptyOnly
)

// Allows reports whether n items satisfy the cardinality.
func (c Cardinality) Allows(n int) bool {
	switch c {
	case ExactlyOne:
		return n == 1
	case ZeroOrOne:
		return n <= 1
	case OneOrMore:
		return n >= 1
	case EmptyOnly:
		return n == 0
	default:
		return true
	}
}

// Suffix returns the occurrence indicator used in sequence types.
func (c Cardinality) Suffix() string {
	switch c {
	case ZeroOrOne:
		return "?"
	case ZeroOrMore:
		return "*"
	case OneOrMore:
		return "+"
	default:
		return ""
	}
}

// SequenceType is a declared type: an item type plus a cardinality.
type SequenceType struct {
	Primary     Type
	Cardinality Cardinality
}

// NewSequenceType creates a SequenceType.
func NewSequenceType(primary Type, card Cardinality) *SequenceType {
	return &SequenceType{Primary: primary, Cardinality: card}
}

// String renders the sequence type, e.g. "element()*".
func (st *SequenceType) String() string {
	if st.Cardinality == EmptyOnly {
		return TypeEmpty.String()
	}
	return st.Primary.String() + st.Cardinality.Suffix()
}

// Check verifies that seq satisfies the sequence type. Violations are
// reported as xerr.KindTypeMismatch.
func (st *SequenceType) Check(seq Sequence) error {
	n := 0
	if seq != nil {
		n = seq.Len()
	}
	if !st.Cardinality.Allows(n) {
		return xerr.New(xerr.KindTypeMismatch,
			"expected %s, got a sequence of %d items", st, n)
	}
	for i := 0; i < n; i++ {
		item := seq.ItemAt(i)
		if !item.ItemType().SubtypeOf(st.Primary) {
			return xerr.New(xerr.KindTypeMismatch,
				"expected %s, got %s at position %d", st, item.ItemType(), i+1)
		}
	}
	return nil
}
