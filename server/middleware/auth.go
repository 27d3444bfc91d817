package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/taskflow/errors"
)

// ContextKeySubject is where Auth stores the authenticated subject.
const ContextKeySubject = "auth_subject"

// TokenValidator validates a bearer token and returns its subject and
// claims.
type TokenValidator func(token string) (subject string, claims map[string]any, err error)

// Auth rejects requests without a valid bearer token. Claims are copied to
// the Gin context and the subject is stored under ContextKeySubject.
func Auth(validate TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abort(c, apperrors.Unauthorized("Authorization header required."))
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			abort(c, apperrors.Unauthorized("Invalid authorization header format."))
			return
		}

		subject, claims, err := validate(token)
		if err != nil {
			abort(c, apperrors.InvalidToken())
			return
		}
		for k, v := range claims {
			c.Set(k, v)
		}
		c.Set(ContextKeySubject, subject)
		c.Next()
	}
}

// StaticSubject runs every request as subject. It stands in for Auth when
// authentication is disabled.
func StaticSubject(subject string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextKeySubject, subject)
		c.Next()
	}
}

// Subject returns the authenticated subject, if any.
func Subject(c *gin.Context) string {
	return c.GetString(ContextKeySubject)
}

func abort(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(err.HTTPStatus, err.ToResponse())
}
