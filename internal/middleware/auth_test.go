package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "scoring-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func newAuthApp() *fiber.App {
	app := fiber.New()
	app.Use(Authenticate(testSecret))
	app.Get("/whoami", func(c *fiber.Ctx) error {
		principal := CurrentPrincipal(c)
		return c.JSON(fiber.Map{"user_id": principal.UserID, "role": principal.Role})
	})
	return app
}

func TestAuthenticateBindsPrincipal(t *testing.T) {
	cases := map[string]jwt.MapClaims{
		"subject claim": {"sub": "42", "role": "Teacher", "exp": time.Now().Add(time.Hour).Unix()},
		"user_id claim": {"user_id": 42, "roles": []string{"", "teacher"}},
	}

	for name, claims := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, []byte(testSecret), claims))

			resp, err := newAuthApp().Test(req)
			require.NoError(t, err)
			require.Equal(t, fiber.StatusOK, resp.StatusCode)

			var body struct {
				UserID uint   `json:"user_id"`
				Role   string `json:"role"`
			}
			decodeJSON(t, resp, &body)
			require.Equal(t, uint(42), body.UserID)
			require.Equal(t, RoleTeacher, body.Role)
		})
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	expired := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "1", "exp": time.Now().Add(-time.Hour).Unix()})
	wrongKey := signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "1"})
	noSubject := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"role": "admin"})
	unsigned := signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"sub": "1"})

	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc",
		"empty bearer":   "Bearer ",
		"garbage":        "Bearer not-a-token",
		"expired":        "Bearer " + expired,
		"wrong key":      "Bearer " + wrongKey,
		"no subject":     "Bearer " + noSubject,
		"alg none":       "Bearer " + unsigned,
	}

	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp, err := newAuthApp().Test(req)
			require.NoError(t, err)
			require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestRequireRole(t *testing.T) {
	cases := map[string]struct {
		role   string
		status int
	}{
		"admin allowed":    {role: "admin", status: fiber.StatusOK},
		"teacher allowed":  {role: " TEACHER ", status: fiber.StatusOK},
		"student rejected": {role: "student", status: fiber.StatusForbidden},
		"anonymous":        {role: "", status: fiber.StatusForbidden},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			app := fiber.New()
			app.Use(func(c *fiber.Ctx) error {
				c.Locals(localUserRole, tc.role)
				return c.Next()
			})
			app.Use(RequireRole(RoleAdmin, RoleTeacher))
			app.Get("/rescore", func(c *fiber.Ctx) error {
				return c.SendStatus(fiber.StatusOK)
			})

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/rescore", nil))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestPrincipalIsStaff(t *testing.T) {
	require.True(t, Principal{Role: RoleAdmin}.IsStaff())
	require.True(t, Principal{Role: RoleTeacher}.IsStaff())
	require.False(t, Principal{Role: RoleStudent}.IsStaff())
	require.False(t, Principal{}.IsStaff())
}
