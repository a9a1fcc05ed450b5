package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/melodia/backend/utils"
)

const (
	// ContextAuthKey stores the verified *utils.Claims inside Gin context.
	ContextAuthKey = "auth"
	// ContextUserIDKey stores the token subject.
	ContextUserIDKey = "user_id"
)

// AttachAuth verifies an optional bearer token and attaches its claims to the context.
// It never rejects a request: handlers decide what an anonymous caller may do.
// With an empty secret the middleware is a pass-through.
func AttachAuth(secret string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if secret == "" {
			ctx.Next()
			return
		}

		parts := strings.SplitN(ctx.GetHeader("Authorization"), " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			ctx.Next()
			return
		}
		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			ctx.Next()
			return
		}

		claims, err := utils.ParseToken(tokenString, secret)
		if err != nil {
			utils.Sugar.Debugf("ignoring invalid bearer token: %v", err)
			ctx.Next()
			return
		}

		ctx.Set(ContextAuthKey, claims)
		ctx.Set(ContextUserIDKey, claims.UserID())
		ctx.Next()
	}
}

// Auth returns the claims attached by AttachAuth.
func Auth(ctx *gin.Context) (*utils.Claims, bool) {
	v, ok := ctx.Get(ContextAuthKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*utils.Claims)
	return claims, ok
}
