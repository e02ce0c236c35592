package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/agentguard/internal/config"
	"github.com/agentguard/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

type Claims struct {
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
	jwt.StandardClaims
}

// Authenticator issues and checks API tokens for the operator accounts listed
// in configuration. When disabled every request is treated as an admin.
type Authenticator struct {
	enabled bool
	secret  []byte
	ttl     time.Duration
	users   map[string]models.User
}

func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	users := make(map[string]models.User, len(cfg.Users))
	for _, u := range cfg.Users {
		users[u.Username] = u
	}
	return &Authenticator{
		enabled: cfg.Enabled,
		secret:  []byte(cfg.JWTSecret),
		ttl:     cfg.TokenTTL,
		users:   users,
	}
}

func (a *Authenticator) Enabled() bool {
	return a.enabled
}

// Login checks the password against the stored bcrypt hash and returns a token.
func (a *Authenticator) Login(username, password string) (string, error) {
	user, ok := a.users[username]
	if !ok || !user.CheckPassword(password) {
		return "", ErrInvalidCredentials
	}
	return a.GenerateToken(&user)
}

func (a *Authenticator) GenerateToken(user *models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: user.Username,
		Role:     user.Role,
		StandardClaims: jwt.StandardClaims{
			Subject:   user.Username,
			ExpiresAt: now.Add(a.ttl).Unix(),
			IssuedAt:  now.Unix(),
			Issuer:    "agentguard",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Authenticator) ParseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !tkn.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if _, ok := a.users[claims.Username]; !ok {
		return nil, fmt.Errorf("unknown user %q", claims.Username)
	}
	return claims, nil
}

func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.enabled {
			c.Set("username", "anonymous")
			c.Set("role", string(models.RoleAdmin))
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		claims, err := a.ParseToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("username", claims.Username)
		c.Set("role", string(claims.Role))
		c.Next()
	}
}

// RequirePermission rejects requests whose role may not perform action.
func RequirePermission(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := models.User{Username: c.GetString("username"), Role: models.Role(c.GetString("role"))}
		if !user.HasPermission(action) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}
		c.Next()
	}
}
