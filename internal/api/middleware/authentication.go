package middleware

import (
	"crypto/subtle"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/cozy-creator/captioner/internal/app"
	"github.com/cozy-creator/captioner/internal/utils/hashutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthenticationMiddleware accepts the key from "Authorization: Bearer" or
// "X-API-Key". The key must match the configured static key or a stored,
// non-revoked key hash.
func AuthenticationMiddleware(ctx *gin.Context) {
	apikey := requestAPIKey(ctx.Request)
	if apikey == "" {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized access"})
		return
	}

	app := ctx.MustGet("app").(*app.App)

	if static := app.Config().Server.APIKey; static != "" &&
		subtle.ConstantTimeCompare([]byte(static), []byte(apikey)) == 1 {
		ctx.Next()
		return
	}

	apikeyHash := hashutil.Sha3256Hash([]byte(apikey))
	result, err := app.APIKeyRepository.GetAPIKeyWithHash(ctx.Request.Context(), apikeyHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "The provided API key is invalid"})
			return
		}

		app.Logger.Error("Database error while checking API key", zap.Error(err))
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Internal server error checking api-keys in database"})
		return
	}

	if result.IsRevoked {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "The provided API key is revoked"})
		return
	}

	ctx.Next()
}

func requestAPIKey(r *http.Request) string {
	if apikey := strings.TrimSpace(r.Header.Get("X-API-Key")); apikey != "" {
		return apikey
	}

	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}

	return strings.TrimSpace(token)
}
