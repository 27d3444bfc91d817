// Package task admits user tasks. Submit reserves the task's cost with the
// quota ledger, records the execution and runs it in the background; when the
// run ends the reservation is confirmed for a completed execution and
// cancelled otherwise. The service also answers the reconciler's liveness
// checks and publishes lifecycle events.
package task
