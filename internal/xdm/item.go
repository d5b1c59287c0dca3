package xdm

import (
	"strconv"

	"github.com/roach88/xcore/internal/xerr"
)

// Item is a single member of a sequence: an atomic value or a node.
type Item interface {
	// ItemType returns the dynamic type of the item.
	ItemType() Type

	// StringValue returns the string value of the item.
	StringValue() string
}

// String is an xs:string value.
type String string

// ItemType implements Item.
func (String) ItemType() Type { return TypeString }

// StringValue implements Item.
func (s String) StringValue() string { return string(s) }

// Integer is an xs:integer value.
// Always int64; there is no decimal or double in this core.
type Integer int64

// ItemType implements Item.
func (Integer) ItemType() Type { return TypeInteger }

// StringValue implements Item.
func (i Integer) StringValue() string { return strconv.FormatInt(int64(i), 10) }

// Boolean is an xs:boolean value.
type Boolean bool

// ItemType implements Item.
func (Boolean) ItemType() Type { return TypeBoolean }

// StringValue implements Item.
func (b Boolean) StringValue() string { return strconv.FormatBool(bool(b)) }

// True and False are the two boolean items.
const (
	True  = Boolean(true)
	False = Boolean(false)
)

// EffectiveBooleanValue reduces a sequence to a boolean:
//   - empty sequence → false
//   - first item is a node → true
//   - single boolean, string, integer → its truth value
//   - anything else is an evaluation error
func EffectiveBooleanValue(seq Sequence) (bool, error) {
	if seq == nil || seq.Len() == 0 {
		return false, nil
	}
	first := seq.ItemAt(0)
	if first.ItemType().IsNode() {
		return true, nil
	}
	if seq.Len() > 1 {
		return false, xerr.New(xerr.KindEvaluation,
			"effective boolean value is not defined for a sequence of %d atomic values", seq.Len())
	}
	switch v := first.(type) {
	case Boolean:
		return bool(v), nil
	case String:
		return len(v) > 0, nil
	case Integer:
		return v != 0, nil
	default:
		return false, xerr.New(xerr.KindEvaluation,
			"effective boolean value is not defined for %s", first.ItemType())
	}
}
