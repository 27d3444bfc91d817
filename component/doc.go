// Package component defines the lifecycle contract shared by long-lived
// parts of the service (database, redis, HTTP server, consumers, sweepers)
// and a registry that starts them in order and stops them in reverse.
package component
