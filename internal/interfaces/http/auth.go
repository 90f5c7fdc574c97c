package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
)

const (
	actorKey     = "actor"
	userIDHeader = "X-User-ID"
)

var errUnauthenticated = errors.New("authentication required")

// Authenticator resolves the acting user. With a secret it requires an
// HS256 bearer token whose subject is the user id; without one it trusts
// the X-User-ID header, which is only meant for local development.
type Authenticator struct {
	secret []byte
	users  port.UserRepository
	logger Logger
}

// NewAuthenticator creates a new Authenticator
func NewAuthenticator(secret string, users port.UserRepository, logger Logger) *Authenticator {
	return &Authenticator{secret: []byte(secret), users: users, logger: logger}
}

// IssueToken signs a token for userID, used by the CLI and tests
func IssueToken(secret string, userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  strconv.FormatInt(userID, 10),
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Middleware stores the resolved *entity.User in the gin context
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := a.userID(c.Request)
		if err != nil {
			a.logger.Info("Rejected request", "path", c.Request.URL.Path, "reason", err.Error())
			respondMessage(c, http.StatusUnauthorized, err.Error())
			return
		}

		user, err := a.lookup(c.Request.Context(), userID)
		if err != nil {
			a.logger.Error("Failed to load actor", "user_id", userID, "error", err)
			respondMessage(c, http.StatusInternalServerError, "internal server error")
			return
		}
		if user == nil {
			respondMessage(c, http.StatusUnauthorized, "unknown user")
			return
		}

		c.Set(actorKey, user)
		c.Next()
	}
}

func (a *Authenticator) userID(r *http.Request) (int64, error) {
	if len(a.secret) == 0 {
		raw := strings.TrimSpace(r.Header.Get(userIDHeader))
		if raw == "" {
			return 0, errUnauthenticated
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("invalid %s header", userIDHeader)
		}
		return id, nil
	}

	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, errUnauthenticated
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, errors.New("invalid or expired token")
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("token subject is not a user id")
	}
	return id, nil
}

func (a *Authenticator) lookup(ctx context.Context, id int64) (*entity.User, error) {
	return a.users.GetByID(ctx, id)
}

// actorFrom returns the user set by the middleware
func actorFrom(c *gin.Context) *entity.User {
	v, ok := c.Get(actorKey)
	if !ok {
		return nil
	}
	user, _ := v.(*entity.User)
	return user
}
