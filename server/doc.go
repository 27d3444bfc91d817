// Package server provides the HTTP server: Gin behind an h2c handler, a
// standard middleware stack, health and metrics endpoints, and the
// AppError-aware response helpers handlers share.
//
// Middleware (server/middleware): Recovery, RequestID, CORS, BodySizeLimit,
// RequestLogger, RateLimit and bearer-token Auth.
//
// Endpoints (server/endpoint): /health, /ready, /version and a Prometheus
// /metrics handler.
package server
