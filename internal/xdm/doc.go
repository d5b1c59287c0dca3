// Package xdm provides the item and type model shared by evaluation and
// storage.
//
// This package contains value types only. dom, xquery and update import
// xdm; xdm imports nothing internal except xerr. Node items are defined
// in dom and satisfy Item from there.
//
// Key design constraints:
//   - Atomic values are string, integer and boolean only; arithmetic and
//     the rest of the function library are outside this core
//   - Sequences built by evaluation (ValueSequence) carry no identity;
//     persistent sequences live in dom
package xdm
