package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	adminContextKey = "AdminSubject"
	adminRole       = "risk-admin"
)

// AdminClaims are carried by operator tokens.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken mints an HS256 admin token for subject.
func GenerateToken(subject, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := AdminClaims{
		Role: adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}
	if claims.Role != adminRole {
		return "", errors.New("token lacks admin role")
	}
	return claims.Subject, nil
}

// AuthMiddleware enforces JWT auth for admin routes. An empty secret disables the check.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			respondError(c, http.StatusUnauthorized, "MISSING_TOKEN", "missing Authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			respondError(c, http.StatusUnauthorized, "INVALID_AUTH_HEADER", "invalid Authorization header")
			c.Abort()
			return
		}

		subject, err := parseToken(parts[1], secret)
		if err != nil {
			respondError(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(adminContextKey, subject)
		c.Next()
	}
}

// CurrentAdmin returns the authenticated operator subject, if any.
func CurrentAdmin(c *gin.Context) string {
	return c.GetString(adminContextKey)
}
