package dom

import "fmt"

// Address is a node's physical storage address: a page number in the high
// 32 bits and a slot within the page in the low 16 bits.
//
// Addresses are only meaningful for the document generation they were
// resolved under; see NodeRef.Address.
type Address uint64

// InvalidAddress is the zero address. Pages are numbered from 1.
const InvalidAddress Address = 0

// NewAddress packs a page and slot.
func NewAddress(page uint32, slot uint16) Address {
	return Address(uint64(page)<<32 | uint64(slot))
}

// Page returns the page number.
func (a Address) Page() uint32 {
	return uint32(a >> 32)
}

// Slot returns the slot within the page.
func (a Address) Slot() uint16 {
	return uint16(a)
}

// Valid reports whether the address points at a page.
func (a Address) Valid() bool {
	return a.Page() != 0
}

// String renders the address as "page:slot".
func (a Address) String() string {
	return fmt.Sprintf("%d:%d", a.Page(), a.Slot())
}
