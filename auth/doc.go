// Package auth issues and verifies the bearer tokens that guard the task
// API. Tokens are JWTs whose subject is the user id quota is charged to.
//
// Usage:
//
//	svc, err := auth.NewService(cfg)
//	router.Use(middleware.Auth(svc.Validator()))
//	token, err := svc.Issue("user-123", "tasks:write")
package auth
