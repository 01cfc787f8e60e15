package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithRoles(roles ...string) context.Context {
	return withIdentity(context.Background(), "user-1", roles)
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name     string
		granted  []string
		required []string
		allowed  bool
	}{
		{"matching role", []string{RoleNurse}, []string{RoleNurse, RoleClinician}, true},
		{"second role matches", []string{RoleViewer, RoleClinician}, []string{RoleClinician}, true},
		{"admin bypass", []string{RoleAdmin}, []string{RoleClinician}, true},
		{"missing role", []string{RoleViewer}, []string{RoleClinician}, false},
		{"no roles", nil, []string{RoleNurse}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", nil)
			req = req.WithContext(contextWithRoles(tt.granted...))
			c := e.NewContext(req, httptest.NewRecorder())

			called := false
			err := RequireRole(tt.required...)(func(c echo.Context) error {
				called = true
				return nil
			})(c)

			if tt.allowed {
				if err != nil || !called {
					t.Fatalf("expected access, got err=%v called=%v", err, called)
				}
				return
			}
			if called {
				t.Error("handler should not run")
			}
			expectStatus(t, err, http.StatusForbidden)
		})
	}
}

func TestUserIDFromContext_Empty(t *testing.T) {
	if uid := UserIDFromContext(context.Background()); uid != "" {
		t.Errorf("expected empty user id, got %q", uid)
	}
	if roles := RolesFromContext(context.Background()); roles != nil {
		t.Errorf("expected nil roles, got %v", roles)
	}
}
