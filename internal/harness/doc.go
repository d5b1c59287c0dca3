// Package harness runs scenario files against a fresh in-memory database.
//
// A scenario loads documents, configures triggers and then walks a flow of
// query, update and check steps. Each step may carry an expect clause; a
// scenario passes when every clause matches. Results can also be compared
// against golden snapshots.
//
// # Scenario Format
//
//	name: library
//	description: "Rename and remove over a small catalogue"
//	page_capacity: 64
//	fragmentation_limit: 4
//	txn_id: txn-library
//	documents:
//	  - collection: /db/library
//	    name: books.xml
//	    owner: alice
//	    xml: |
//	      <books><book id="1"/></books>
//	triggers:
//	  - { collection: /db/frozen, event: update, type: reject }
//	flow:
//	  - query: "count(//book)"
//	    expect: { items: ["1"] }
//	  - update: { kind: rename, select: //book, value: volume, as: alice }
//	    expect: { count: 1 }
//	  - check: true
//
// Exactly one of query, update or check is set per step. An expect clause
// may name items (string values in order), count, relocated, error (an
// error kind such as ACCESS_DENIED) and changed. Omitted fields are not
// checked.
package harness
