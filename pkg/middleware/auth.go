package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/sirosfoundation/kettle/internal/lifecycle"
)

// AdminAuth validates a static bearer token. It guards the status and metrics endpoints.
func AdminAuth(token string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided, msg := bearer(c.GetHeader("Authorization"))
		if msg != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, lifecycle.ErrorFrame{IsError: true, Message: msg})
			return
		}

		// Constant-time comparison to prevent timing attacks
		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			logger.Warn("Invalid admin token attempt", zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusUnauthorized, lifecycle.ErrorFrame{IsError: true, Message: "Invalid token"})
			return
		}

		c.Next()
	}
}

// bearer extracts the token from "Bearer <token>". The second value is a
// client-facing message when the header is unusable.
func bearer(header string) (string, string) {
	if header == "" {
		return "", "Authorization header required"
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", "Invalid authorization header format"
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", "Token required"
	}
	return token, ""
}

// BearerToken returns a handshake middleware that requires an HMAC-signed JWT, taken
// from the Authorization header or, for clients that cannot set headers on an upgrade
// request, from the tokenParam query parameter. The token claims are stored on the
// request for the handlers of the connection.
func BearerToken(secret, tokenParam string, logger *zap.Logger) lifecycle.Middleware {
	return lifecycle.MiddlewareFunc(func(_ context.Context, req *lifecycle.Request) error {
		if req.HTTP == nil {
			return lifecycle.Fail(http.StatusUnauthorized, "Authorization header required")
		}

		tokenString, msg := bearer(req.HTTP.Header.Get("Authorization"))
		if msg != "" && tokenParam != "" {
			if q := req.HTTP.URL.Query().Get(tokenParam); q != "" {
				tokenString, msg = q, ""
			}
		}
		if msg != "" {
			return lifecycle.Fail(http.StatusUnauthorized, msg)
		}

		// Parse and validate the JWT token
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			logger.Debug("Rejected handshake token", zap.Error(err))
			return &lifecycle.HandlerError{Status: http.StatusUnauthorized, Message: "Invalid token", Cause: err}
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return lifecycle.Fail(http.StatusUnauthorized, "Invalid token claims")
		}
		req.Claims = claims
		return nil
	})
}
