package update

import (
	"fmt"
	"strings"
)

// Kind is the closed set of structural edits a Modification can apply.
type Kind int

const (
	// KindUpdate replaces the value of each selected node.
	KindUpdate Kind = iota + 1
	// KindRename renames each selected element or attribute.
	KindRename
	// KindRemove removes each selected node with its subtree.
	KindRemove
	// KindAppend appends a new child element to each selected element.
	KindAppend
)

var kindNames = map[Kind]string{
	KindUpdate: "update",
	KindRename: "rename",
	KindRemove: "remove",
	KindAppend: "append",
}

// String returns the kind name used on the command line and in metrics.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind returns the Kind named s, case-insensitively.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown modification kind %q", s)
}

// needsValue reports whether the kind takes an argument.
func (k Kind) needsValue() bool {
	return k == KindRename || k == KindAppend
}

// State is the lifecycle position of a Modification.
type State int

const (
	// StateNew is a modification that has not started selecting.
	StateNew State = iota
	// StateSelecting holds the global lock in shared mode while the
	// target nodes are selected.
	StateSelecting
	// StateLocked holds every target document exclusively.
	StateLocked
	// StateMutating is applying the edit.
	StateMutating
	// StateUnlocked has released every lock.
	StateUnlocked
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateSelecting:
		return "selecting"
	case StateLocked:
		return "locked"
	case StateMutating:
		return "mutating"
	case StateUnlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
