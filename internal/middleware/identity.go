package middleware

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/blake2b"
)

// Context keys set by Identity
const (
	ContextAPIKeyID = "api_key_id"
	ContextUserID   = "user_id"
)

type IdentityConfig struct {
	CredentialHeader string // Default: X-API-Key
	JWTSecret        string // empty disables bearer token parsing
	UserIDClaim      string // Default: sub
	Logger           *slog.Logger
}

// Identity resolves the caller's API key and user identities for keying
// limits. It never rejects a request: a missing or invalid credential just
// leaves the corresponding identity empty.
func Identity(cfg IdentityConfig) gin.HandlerFunc {
	if cfg.CredentialHeader == "" {
		cfg.CredentialHeader = "X-API-Key"
	}
	if cfg.UserIDClaim == "" {
		cfg.UserIDClaim = "sub"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	secret := []byte(cfg.JWTSecret)

	return func(c *gin.Context) {
		if key := c.GetHeader(cfg.CredentialHeader); key != "" {
			c.Set(ContextAPIKeyID, HashAPIKey(key))
		}

		if len(secret) > 0 {
			if token, ok := bearerToken(c.GetHeader("Authorization")); ok {
				userID, err := userFromToken(token, secret, cfg.UserIDClaim)
				if err != nil {
					cfg.Logger.Debug("ignoring bearer token", "request_id", c.GetString("request_id"), "error", err)
				} else {
					c.Set(ContextUserID, userID)
				}
			}
		}

		c.Next()
	}
}

// HashAPIKey returns a stable, non-reversible identifier for an API key
func HashAPIKey(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

func userFromToken(tokenString string, secret []byte, claim string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name, jwt.SigningMethodHS384.Name, jwt.SigningMethodHS512.Name}))
	if err != nil {
		return "", err
	}

	switch v := claims[claim].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	}
	return "", errors.New("token has no " + claim + " claim")
}

// Protects admin routes with a static bearer token. An empty token leaves them open.
func RequireAdmin(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		presented, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Admin token required",
			})
			return
		}
		c.Next()
	}
}
