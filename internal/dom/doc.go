// Package dom defines node identity and persistent node sets.
//
// The unit everything operates on is NodeRef: a logical NodeID within a
// Document plus a cached physical Address. NodeRefs carry a Trail of
// context annotations so that a filter can tell which upstream node
// produced a result. NodeSet is the persistent sequence (duplicate
// elimination by identity, document order); DocumentSet groups the
// documents of one operation and locks them in id order.
//
// # Address Stability
//
// A Document's generation counter is bumped whenever storage reorganizes
// its pages. A NodeRef remembers the generation its address was resolved
// under and re-resolves when it no longer matches, so staleness is always
// detected rather than assumed absent.
package dom
