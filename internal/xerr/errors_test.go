package xerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "plain",
			err:  New(KindLockFailure, "could not lock"),
			want: "LOCK_FAILURE: could not lock",
		},
		{
			name: "document",
			err:  New(KindTriggerFailure, "prepare rejected").OnDocument(7),
			want: "TRIGGER_FAILURE: prepare rejected (doc=7)",
		},
		{
			name: "node",
			err:  New(KindEvaluation, "context missing").OnNode(3, "1.2"),
			want: "EVALUATION_ERROR: context missing (doc=3, node=1.2)",
		},
		{
			name: "wrapped",
			err:  Wrap(KindInternalStore, errors.New("disk full"), "write node"),
			want: "INTERNAL_STORE_ERROR: write node: disk full",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}

func TestIsKind_SeesThroughWrapping(t *testing.T) {
	base := New(KindTypeMismatch, "expected xs:integer")
	wrapped := fmt.Errorf("bind $x: %w", base)

	assert.True(t, IsTypeMismatch(wrapped))
	assert.False(t, IsEvaluation(wrapped))
	assert.Equal(t, KindTypeMismatch, KindOf(wrapped))
	assert.Equal(t, Kind(""), KindOf(errors.New("other")))
	assert.False(t, IsKind(nil, KindTypeMismatch))
}

func TestChangedClassification(t *testing.T) {
	before := New(KindLockFailure, "lock")
	after := &Error{Kind: KindTriggerFailure, Message: "finish", Changed: true}

	assert.True(t, NothingChanged(before))
	assert.False(t, PartiallyChanged(before))

	assert.False(t, NothingChanged(after))
	assert.True(t, PartiallyChanged(fmt.Errorf("wrapped: %w", after)))

	// Unknown errors are not claimed either way.
	other := errors.New("boom")
	assert.False(t, NothingChanged(other))
	assert.False(t, PartiallyChanged(other))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("cause")
	err := Wrap(KindInternalStore, cause, "select")
	require.ErrorIs(t, err, cause)
}
