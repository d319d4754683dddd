// Package harness runs scripted editing sessions against an in-memory
// backend and checks what reached the network.
//
// Each scenario gets a fresh engine, a fake clock, sequential row handles
// and an in-memory journal database, so the request log is reproducible and
// can be pinned by golden files.
//
// # Scenario Format
//
//	name: scenario_d_debounced_patch
//	description: "Two quick edits produce one PATCH"
//	resource: parts
//	schema: |
//	  resource: parts: {
//	    path: "/parts"
//	    fields: {
//	      name: {required: true}
//	      qty: {kind: "int"}
//	    }
//	  }
//	backend:
//	  items: 10
//	steps:
//	  - do: search
//	  - do: edit
//	    id: 7
//	    field: name
//	    value: A
//	  - do: advance
//	    duration: 100ms
//	assertions:
//	  - type: request_count
//	    op: update
//	    count: 1
//
// Steps that hold a request (hold, wait, release) let a scenario interleave
// a slow response with later input. While a request is held the loop is
// drained but not settled.
package harness
