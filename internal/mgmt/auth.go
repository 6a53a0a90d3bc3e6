package mgmt

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Role defines the access level for an authenticated caller.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleReadOnly Role = "readonly"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Mode      string          // "none", "api-key", "jwt"
	APIKey    string          // from env MGMT_API_KEY
	JWTSecret string          // HS256 secret for "jwt" mode
	Roles     map[string]Role // api-key → role mapping
}

// NewAuthMiddleware returns a Fiber middleware that validates the
// Authorization header according to the configured mode.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Mode == "none" {
			c.Locals("role", RoleAdmin)
			return c.Next()
		}

		// Probe endpoints stay unauthenticated.
		path := c.Path()
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized",
				"Authorization header is required")
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_auth_scheme", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")

		switch cfg.Mode {
		case "jwt":
			role, ok := validateJWT(token, cfg.JWTSecret)
			if !ok {
				logger.Warn().
					Str("path", path).
					Str("method", c.Method()).
					Msg("unauthorized request: invalid token")
				return problemResponse(c, fiber.StatusUnauthorized,
					"invalid_token", "Unauthorized",
					"Invalid or expired token")
			}
			c.Locals("role", role)
			return c.Next()

		default: // "api-key"
			if cfg.APIKey != "" && token == cfg.APIKey {
				role := RoleAdmin
				if r, ok := cfg.Roles[token]; ok {
					role = r
				}
				c.Locals("role", role)
				return c.Next()
			}
			if role, ok := cfg.Roles[token]; ok {
				c.Locals("role", role)
				return c.Next()
			}

			logger.Warn().
				Str("path", path).
				Str("method", c.Method()).
				Msg("unauthorized request: invalid API key")
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_api_key", "Unauthorized",
				"Invalid API key")
		}
	}
}

// validateJWT parses an HS256 token and extracts the role claim. Tokens
// without a role claim default to readonly.
func validateJWT(token, secret string) (Role, bool) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return "", false
	}

	role := RoleReadOnly
	if claims, ok := parsed.Claims.(jwt.MapClaims); ok {
		if r, ok := claims["role"].(string); ok && r != "" {
			role = Role(r)
		}
	}
	return role, true
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}
