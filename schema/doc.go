// Package schema defines pipeline schemas: nodes with a tagged-union config
// keyed by node_type, guarded edges, and the declared input contract.
//
// Compile validates a schema before it may execute:
//   - node ids are unique and every reference resolves
//   - the top-level graph is acyclic; loop bodies may re-read earlier iterations
//   - loop and parallel bodies are owned by exactly one container
//   - parallel branches never write the same variable
//   - in strict mode, condition variables are declared or produced
//
// Schemas load from JSON or YAML through FileLoader; both formats share the
// JSON decoding rules, so an unknown config field is an error in either.
package schema
