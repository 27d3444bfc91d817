// Package recorder stores executions and their steps with GORM and serves
// the read-only queries over them. Store implements dag.Recorder.
package recorder
