package dom

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeID is a logical path-position identifier (dynamic level number):
// the root element is "1", its second child "1.2", and so on.
//
// NodeIDs are stable across read-only access and are totally ordered in
// document order. They are distinct from physical addresses, which change
// when storage reorganizes pages.
type NodeID string

// RootID is the NodeID of a document's root element.
const RootID NodeID = "1"

// ParseNodeID validates and returns a NodeID.
func ParseNodeID(s string) (NodeID, error) {
	if s == "" {
		return "", fmt.Errorf("empty node id")
	}
	for _, part := range strings.Split(s, ".") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 {
			return "", fmt.Errorf("invalid node id %q", s)
		}
	}
	return NodeID(s), nil
}

// Levels returns the ordinal at each level, root first.
func (id NodeID) Levels() []int {
	if id == "" {
		return nil
	}
	parts := strings.Split(string(id), ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		out[i], _ = strconv.Atoi(p)
	}
	return out
}

// Level returns the depth of the node; the root is at level 1.
func (id NodeID) Level() int {
	if id == "" {
		return 0
	}
	return strings.Count(string(id), ".") + 1
}

// Parent returns the parent id, or "" for the root.
func (id NodeID) Parent() NodeID {
	i := strings.LastIndexByte(string(id), '.')
	if i < 0 {
		return ""
	}
	return id[:i]
}

// Child returns the id of the n-th child (1-based).
func (id NodeID) Child(n int) NodeID {
	return NodeID(string(id) + "." + strconv.Itoa(n))
}

// IsChildOf reports whether id is a direct child of parent.
func (id NodeID) IsChildOf(parent NodeID) bool {
	return id.Parent() == parent && parent != ""
}

// IsDescendantOf reports whether id is strictly below ancestor.
func (id NodeID) IsDescendantOf(ancestor NodeID) bool {
	return ancestor != "" && strings.HasPrefix(string(id), string(ancestor)+".")
}

// Compare orders ids in document order: -1, 0 or 1.
// An ancestor precedes its descendants.
func (id NodeID) Compare(other NodeID) int {
	a, b := id.Levels(), other.Levels()
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}
