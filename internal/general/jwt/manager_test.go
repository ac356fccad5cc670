package jwt

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager("test-secret-key", time.Hour)
}

func TestIssueAndValidateToken(t *testing.T) {
	mgr := testManager(t)

	signed, claims, err := mgr.IssueUserToken("driver-42", RoleDriver)
	if err != nil {
		t.Fatalf("IssueUserToken: %v", err)
	}
	if claims.Subject != "driver-42" || claims.Role != RoleDriver {
		t.Errorf("claims = %+v", claims)
	}

	_, parsed, err := mgr.ParseAndValidate(signed)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if parsed.Subject != "driver-42" || parsed.Role != RoleDriver {
		t.Errorf("parsed claims = %+v", parsed)
	}
}

func TestIssueRejectsInvalidRole(t *testing.T) {
	mgr := testManager(t)
	if _, _, err := mgr.IssueUserToken("u1", Role("WIZARD")); err == nil {
		t.Fatal("expected error for invalid role")
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	signed, _, err := testManager(t).IssueUserToken("u1", RolePassenger)
	if err != nil {
		t.Fatalf("IssueUserToken: %v", err)
	}

	other := NewManager("another-secret", time.Hour)
	if _, _, err := other.ParseAndValidate(signed); err == nil {
		t.Fatal("token signed with a different secret must be rejected")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	mgr := NewManager("test-secret-key", -time.Minute)
	signed, _, err := mgr.IssueUserToken("u1", RolePassenger)
	if err != nil {
		t.Fatalf("IssueUserToken: %v", err)
	}
	if _, _, err := mgr.ParseAndValidate(signed); err == nil {
		t.Fatal("expired token must be rejected")
	}
}

func TestRoleAllowed(t *testing.T) {
	mgr := testManager(t)
	_, claims, err := mgr.IssueUserToken("u1", RoleDriver)
	if err != nil {
		t.Fatalf("IssueUserToken: %v", err)
	}

	if err := RoleAllowed(claims, RoleDriver, RoleAdmin); err != nil {
		t.Errorf("driver should be allowed: %v", err)
	}
	if err := RoleAllowed(claims, RolePassenger); err != ErrRoleForbidden {
		t.Errorf("err = %v, want ErrRoleForbidden", err)
	}
}

func TestValidateWSAuth(t *testing.T) {
	mgr := testManager(t)
	signed, _, err := mgr.IssueUserToken("driver-7", RoleDriver)
	if err != nil {
		t.Fatalf("IssueUserToken: %v", err)
	}

	frame := []byte(`{"type":"auth","token":"Bearer ` + signed + `"}`)
	res, err := ValidateWSAuth(frame, mgr, RoleDriver)
	if err != nil {
		t.Fatalf("ValidateWSAuth: %v", err)
	}
	if res.Claims.Subject != "driver-7" {
		t.Errorf("subject = %q, want driver-7", res.Claims.Subject)
	}
}

func TestValidateWSAuthRejections(t *testing.T) {
	mgr := testManager(t)
	signed, _, err := mgr.IssueUserToken("p1", RolePassenger)
	if err != nil {
		t.Fatalf("IssueUserToken: %v", err)
	}

	tests := []struct {
		name  string
		frame string
	}{
		{"not json", "hello"},
		{"wrong type", `{"type":"ping","token":"Bearer x"}`},
		{"missing bearer wrap", `{"type":"auth","token":"` + signed + `"}`},
		{"garbage token", `{"type":"auth","token":"Bearer garbage"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValidateWSAuth([]byte(tt.frame), mgr, RolePassenger); err == nil {
				t.Error("expected rejection")
			}
		})
	}

	// valid token, wrong role
	frame := []byte(`{"type":"auth","token":"Bearer ` + signed + `"}`)
	if _, err := ValidateWSAuth(frame, mgr, RoleDriver); err != ErrRoleForbidden {
		t.Errorf("err = %v, want ErrRoleForbidden", err)
	}
}

func TestParseRole(t *testing.T) {
	got, err := ParseRole(" driver ")
	if err != nil || got != RoleDriver {
		t.Errorf("ParseRole = %v, %v", got, err)
	}
	if _, err := ParseRole("root"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestNewManagerPanicsOnEmptySecret(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for empty secret")
		}
	}()
	_ = NewManager("   ", time.Hour)
}

func TestFromAuthorization(t *testing.T) {
	t.Run("header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws/drivers/d1", nil)
		r.Header.Set("Authorization", "Bearer abc123")
		tok, err := FromAuthorization(r)
		if err != nil || tok != "abc123" {
			t.Errorf("token = %q, err = %v", tok, err)
		}
	})

	t.Run("query parameter", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws/drivers/d1?Authorization=Bearer+abc123", nil)
		tok, err := FromAuthorization(r)
		if err != nil || tok != "abc123" {
			t.Errorf("token = %q, err = %v", tok, err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws/drivers/d1", nil)
		if _, err := FromAuthorization(r); err == nil {
			t.Error("expected error for missing authorization")
		}
	})
}
