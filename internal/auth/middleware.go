package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const sessionIDKey contextKey = "sessionID"

// TokenHeader carries a freshly issued session token for non-browser clients.
const TokenHeader = "X-Session-Token"

const issuer = "leafguard"

// GetSessionID retrieves the session identifier from context.
func GetSessionID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(sessionIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// WithSessionID stores id on ctx the way SessionMiddleware does.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// IssueToken signs a session token whose subject is the session id.
func IssueToken(secret, sessionID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates a session token and returns its session id.
func ParseToken(secret, tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

// SessionMiddleware resolves the caller's session from a bearer token or the
// session cookie. Browsers without a valid cookie get a new session. A bearer
// token that fails validation is rejected.
func SessionMiddleware(secret, cookieName string, ttl time.Duration) gin.HandlerFunc {
	secret = strings.TrimSpace(secret)

	return func(c *gin.Context) {
		if header := c.Request.Header.Get("Authorization"); header != "" {
			tokenString, err := extractBearerToken(header)
			if err != nil {
				unauthorized(c, err.Error())
				return
			}
			sessionID, err := ParseToken(secret, tokenString)
			if err != nil {
				unauthorized(c, err.Error())
				return
			}
			setSession(c, sessionID)
			c.Next()
			return
		}

		if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
			if sessionID, err := ParseToken(secret, cookie); err == nil {
				setSession(c, sessionID)
				c.Next()
				return
			}
		}

		sessionID := uuid.NewString()
		token, err := IssueToken(secret, sessionID, ttl)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to issue session"})
			return
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(cookieName, token, int(ttl/time.Second), "/", "", false, true)
		c.Header(TokenHeader, token)

		setSession(c, sessionID)
		c.Next()
	}
}

func setSession(c *gin.Context, sessionID string) {
	c.Request = c.Request.WithContext(WithSessionID(c.Request.Context(), sessionID))
	c.Set(string(sessionIDKey), sessionID)
}

func extractBearerToken(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
