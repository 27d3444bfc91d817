// Package condition evaluates boolean expression trees over execution
// variables.
//
// Leaves test a variable path (exists, equals, gt, lt, contains, regex)
// against a literal value or another variable; and, or and not combine
// them. Evaluation never fails: a variable that cannot be resolved, a type
// mismatch or a bad pattern makes the leaf false, so optional inputs can
// drive branches without aborting a run.
//
//	{"op": "and", "args": [
//	  {"op": "exists", "var": "input.video_url"},
//	  {"op": "gt", "var": "input.duration", "value": 30}
//	]}
package condition
