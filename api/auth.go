package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	gojwt "github.com/golang-jwt/jwt/v5"

	"pricewatch/services"
)

const authorKey = "pricewatch.author"

// UserClaims are the bearer token claims the API trusts. Subject is the
// user id.
type UserClaims struct {
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	gojwt.RegisteredClaims
}

// requireUser verifies an HMAC-signed bearer token and stores the caller's
// Author on the context.
func requireUser(secret []byte) gin.HandlerFunc {
	parser := gojwt.NewParser(gojwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))

	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" || len(secret) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing bearer token"})
			return
		}

		claims := &UserClaims{}
		_, err := parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(*gojwt.Token) (any, error) {
			return secret, nil
		})
		if err != nil || claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid bearer token"})
			return
		}

		c.Set(authorKey, services.Author{UserID: claims.Subject, Name: claims.Name, PhotoURL: claims.Picture})
		c.Next()
	}
}

func authorFrom(c *gin.Context) services.Author {
	v, _ := c.Get(authorKey)
	a, _ := v.(services.Author)
	return a
}
