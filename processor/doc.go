// Package processor provides dag.Processor implementations backed by
// remote services, and Register to bind configured ones into a registry.
package processor
