package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/docuflow/backend/internal/config"
	"github.com/docuflow/backend/internal/database"
	"github.com/docuflow/backend/internal/token"
)

// LinkAuth is the authorization gate for upload-intake routes. It runs on
// every request - never cached at the session level - so a deactivation
// takes effect on the next request, bounded only by the cache TTL.
//
// Outcome per request: cryptographic verification first (Token Codec),
// then business-state lookup (cache, then database through the resilience
// layer), then the isActive/expiresAt checks. Expiry is exclusive: a
// request arriving exactly at expiresAt is rejected.
func LinkAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := extractLinkToken(c)
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "Invalid token",
			})
		}

		claims, err := token.Verify(tokenString, cfg.JWTSecret)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "Invalid token",
			})
		}

		link, err := resolveUploadLink(tokenString)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"success": false,
					"message": "Invalid token",
				})
			}
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"success": false,
				"message": "Service temporarily unavailable. Please try again.",
			})
		}

		// Token claims and stored record must agree; a mismatch means the
		// token was issued for a different link generation.
		if link.ID != claims.UploadLinkID {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "Invalid token",
			})
		}

		if !link.IsActive {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"success": false,
				"message": "This upload link has been deactivated",
			})
		}

		if link.Expired(time.Now()) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "This upload link has expired",
			})
		}

		c.Locals("uploadLinkID", link.ID)
		c.Locals("uploadLinkClientID", link.ClientID)
		c.Locals("uploadLinkToken", tokenString)
		c.Locals("uploadLinkExpiresAt", link.ExpiresAt)

		return c.Next()
	}
}

// resolveUploadLink reads through the cache to the persistent store
func resolveUploadLink(tokenString string) (*database.CachedUploadLink, error) {
	if cached := database.GetCachedUploadLink(tokenString); cached != nil {
		return cached, nil
	}

	var link database.CachedUploadLink
	err := database.Execute(func() error {
		return database.DB.Table("upload_links").
			Select("id, client_id, is_active, expires_at").
			Where("token = ?", tokenString).
			Take(&link).Error
	})
	if err != nil {
		return nil, err
	}

	database.SetCachedUploadLink(tokenString, &link)
	return &link, nil
}

// extractLinkToken accepts the token via query parameter (the form embedded
// in the shared URL) or an Authorization bearer header (subsequent calls)
func extractLinkToken(c *fiber.Ctx) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	authHeader := c.Get("Authorization")
	parts := strings.Split(authHeader, " ")
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

// GetLinkID returns the authorized upload link id from context
func GetLinkID(c *fiber.Ctx) string {
	id, ok := c.Locals("uploadLinkID").(string)
	if !ok {
		return ""
	}
	return id
}

// GetLinkClientID returns the authorized link's client id from context
func GetLinkClientID(c *fiber.Ctx) uint {
	id, ok := c.Locals("uploadLinkClientID").(uint)
	if !ok {
		return 0
	}
	return id
}

// GetLinkExpiresAt returns the authorized link's deadline from context
func GetLinkExpiresAt(c *fiber.Ctx) time.Time {
	t, ok := c.Locals("uploadLinkExpiresAt").(time.Time)
	if !ok {
		return time.Time{}
	}
	return t
}
