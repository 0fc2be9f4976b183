package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const principalKey = "equipviz_principal"

// principal is the authenticated owner of a request.
type principal struct {
	ownerID int64
	token   string
}

// Middleware requires an "Authorization: Bearer <token>" header. Every dataset
// route is scoped to the owner it resolves to.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader(s.headerName))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		ownerID, err := s.ValidateToken(c.Request.Context(), token)
		switch {
		case errors.Is(err, ErrTokenExpired):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token expired, log in again"})
			return
		case err != nil:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidToken.Error()})
			return
		}
		c.Set(principalKey, principal{ownerID: ownerID, token: token})
		c.Next()
	}
}

// OwnerIDFromContext returns the owner resolved by Middleware.
func OwnerIDFromContext(c *gin.Context) (int64, bool) {
	p, ok := principalFrom(c)
	return p.ownerID, ok && p.ownerID > 0
}

// TokenFromContext returns the bearer token of the request, used on logout.
func TokenFromContext(c *gin.Context) (string, bool) {
	p, ok := principalFrom(c)
	return p.token, ok && p.token != ""
}

func principalFrom(c *gin.Context) (principal, bool) {
	val, ok := c.Get(principalKey)
	if !ok {
		return principal{}, false
	}
	p, ok := val.(principal)
	return p, ok
}

func bearerToken(header string) (string, error) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", ErrTokenRequired
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", ErrTokenRequired
	}
	return token, nil
}
