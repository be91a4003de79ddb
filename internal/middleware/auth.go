package middleware

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/oracy-scoring-api/internal/utils"
)

// Roles recognised by the scoring API.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

const (
	localUserID   = "user_id"
	localUserRole = "user_role"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID uint
	Role   string
}

// IsStaff reports whether the caller may act on any student's submission.
func (p Principal) IsStaff() bool {
	return p.Role == RoleTeacher || p.Role == RoleAdmin
}

// accessClaims accepts the subject either as the registered "sub" claim or a
// numeric "user_id", and the role either as "role" or the first of "roles".
type accessClaims struct {
	UserID json.Number `json:"user_id,omitempty"`
	Role   string      `json:"role,omitempty"`
	Roles  []string    `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

func (c accessClaims) principal() Principal {
	var principal Principal
	if id, err := strconv.ParseUint(strings.TrimSpace(c.Subject), 10, 64); err == nil {
		principal.UserID = uint(id)
	} else if id, err := strconv.ParseUint(c.UserID.String(), 10, 64); err == nil {
		principal.UserID = uint(id)
	}

	principal.Role = normalizeRole(c.Role)
	for _, role := range c.Roles {
		if principal.Role != "" {
			break
		}
		principal.Role = normalizeRole(role)
	}
	return principal
}

// Authenticate validates HMAC signed bearer tokens and binds the caller to the request.
func Authenticate(secret string) fiber.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithLeeway(30*time.Second),
	)
	key := []byte(secret)

	return func(c *fiber.Ctx) error {
		authorization := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if authorization == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}

		scheme, token, found := strings.Cut(authorization, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid authorization header")
		}

		var claims accessClaims
		if _, err := parser.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		}); err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		principal := claims.principal()
		if principal.UserID == 0 {
			return utils.SendError(c, fiber.StatusUnauthorized, "token subject missing")
		}

		c.Locals(localUserID, principal.UserID)
		c.Locals(localUserRole, principal.Role)
		return c.Next()
	}
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if normalized := normalizeRole(role); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		if _, ok := allowed[CurrentPrincipal(c).Role]; !ok {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}

// CurrentPrincipal returns the caller bound by Authenticate. The zero value
// means the request is anonymous.
func CurrentPrincipal(c *fiber.Ctx) Principal {
	var principal Principal
	switch id := c.Locals(localUserID).(type) {
	case uint:
		principal.UserID = id
	case int:
		if id > 0 {
			principal.UserID = uint(id)
		}
	}
	if role, ok := c.Locals(localUserRole).(string); ok {
		principal.Role = normalizeRole(role)
	}
	return principal
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
