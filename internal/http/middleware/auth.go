package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yungbote/persona-council/internal/platform/ctxutil"
	"github.com/yungbote/persona-council/internal/platform/logger"
)

const headerInternalToken = "X-Internal-Token"

var (
	errMissingSubject = errors.New("token has no subject")
	errNoSecret       = errors.New("jwt secret not configured")
)

// AuthMiddleware verifies HS256 bearer tokens. The token subject is the user id.
type AuthMiddleware struct {
	log           *logger.Logger
	secret        []byte
	internalToken string
}

func NewAuthMiddleware(log *logger.Logger, jwtSecret, internalToken string) *AuthMiddleware {
	return &AuthMiddleware{
		log:           log.Component("AuthMiddleware"),
		secret:        []byte(jwtSecret),
		internalToken: internalToken,
	}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearer(c)
		if tokenString == "" {
			abortAuth(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
			return
		}
		userID, err := am.subject(tokenString)
		if err != nil {
			am.log.Debug("token rejected", "error", err)
			abortAuth(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
			return
		}
		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{UserID: userID})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireInternal guards billing callbacks with a shared token. With no token
// configured every request is refused.
func (am *AuthMiddleware) RequireInternal() gin.HandlerFunc {
	return func(c *gin.Context) {
		got := strings.TrimSpace(c.GetHeader(headerInternalToken))
		if am.internalToken == "" || got == "" ||
			subtle.ConstantTimeCompare([]byte(got), []byte(am.internalToken)) != 1 {
			abortAuth(c, http.StatusForbidden, "forbidden", "forbidden")
			return
		}
		c.Next()
	}
}

func (am *AuthMiddleware) subject(tokenString string) (string, error) {
	if len(am.secret) == 0 {
		return "", errNoSecret
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return am.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return "", err
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", errMissingSubject
	}
	return sub, nil
}

// IssueToken signs a token for userID. Used by the CLI and tests.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func extractBearer(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

func abortAuth(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{"message": msg, "code": code},
	})
}
