// Package update applies structural edits to stored documents under the
// document lock protocol.
//
// # Lock Protocol
//
// A Modification selects its target nodes while holding the Controller's
// global lock in shared mode, then locks every selected document
// exclusively in ascending id order and only then releases the global
// lock. Two modifications with overlapping document sets therefore
// always acquire their common documents in the same order.
//
// # Trigger Protocol
//
//   - Prepare runs once per document after the documents are locked; a
//     failure unlocks everything and nothing is changed
//   - Finish runs once per document after the documents are unlocked; a
//     failure is reported as partially changed and is not rolled back
//
// # Post-Update Checks
//
// Before unlocking, documents whose split count exceeds the fragmentation
// limit are defragmented and every edited document is checked for
// consistency. Selected nodes moved by a page split while the edit runs
// are followed through the notify service.
package update
