// Package redis wraps go-redis with duration-string configuration,
// logging and component lifecycle. taskflow uses it for callback
// idempotency keys.
package redis
