package xquery

import (
	"github.com/roach88/xcore/internal/xdm"
	"github.com/roach88/xcore/internal/xerr"
)

// PositionalType is the declared type of a positional variable.
var PositionalType = xdm.NewSequenceType(xdm.TypeInteger, xdm.ExactlyOne)

// LocalVariable is a named binding on the evaluation stack, with an
// optional declared type.
type LocalVariable struct {
	Name  string
	Type  *xdm.SequenceType
	value xdm.Sequence
}

// NewLocalVariable creates an unbound variable. typ may be nil.
func NewLocalVariable(name string, typ *xdm.SequenceType) *LocalVariable {
	return &LocalVariable{Name: normalizeName(name), Type: typ}
}

// SetValue binds the variable.
func (v *LocalVariable) SetValue(seq xdm.Sequence) {
	v.value = seq
}

// Value returns the bound sequence, the empty sequence if unbound.
func (v *LocalVariable) Value() xdm.Sequence {
	if v.value == nil {
		return xdm.Empty
	}
	return v.value
}

// CheckType verifies the bound value against the declared type.
func (v *LocalVariable) CheckType() error {
	if v.Type == nil {
		return nil
	}
	if err := v.Type.Check(v.Value()); err != nil {
		return xerr.Wrap(xerr.KindTypeMismatch, err, "variable $%s declared as %s", v.Name, v.Type)
	}
	return nil
}
