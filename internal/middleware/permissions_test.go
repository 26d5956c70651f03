package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestHasPermission(t *testing.T) {
	cases := []struct {
		name     string
		granted  []string
		required string
		want     bool
	}{
		{"wildcard", []string{"*"}, "messages.write", true},
		{"exact", []string{"messages.read"}, "messages.read", true},
		{"exact mismatch", []string{"messages.read"}, "messages.write", false},
		{"resource wildcard", []string{"messages.*"}, "messages.write", true},
		{"resource wildcard matches bare resource", []string{"messages.*"}, "messages", true},
		{"resource wildcard scoped", []string{"messages.*"}, "conversations.read", false},
		{"prefix is not a match", []string{"messages.*"}, "messagesextra.read", false},
		{"empty requirement always passes", nil, "", true},
		{"nothing granted", nil, "messages.read", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HasPermission(tc.granted, tc.required); got != tc.want {
				t.Fatalf("HasPermission(%v, %q) = %v, want %v", tc.granted, tc.required, got, tc.want)
			}
		})
	}
}

func permRouter(perms []string, mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if perms != nil {
			c.Set("permissions", perms)
		}
		c.Next()
	})
	r.Use(mw)
	handler := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
	r.GET("/res", handler)
	r.POST("/res", handler)
	return r
}

func TestRequireResourcePermission_MethodMapping(t *testing.T) {
	r := permRouter([]string{"messages.read"}, RequireResourcePermission("messages"))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/res", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET with read permission: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/res", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("POST with only read permission: status = %d, want 403", w.Code)
	}
}

func TestRequirePermissionsAny(t *testing.T) {
	r := permRouter([]string{"ai.read"}, RequirePermissionsAny("automation.read", "ai.read"))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/res", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, any one permission must suffice", w.Code)
	}

	r = permRouter(nil, RequirePermissionsAny("automation.read"))
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/res", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 without permissions", w.Code)
	}
}

func TestRequireRolesAny(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("roles", []string{"operator"})
		c.Next()
	})
	r.Use(RequireRolesAny("admin", "operator"))
	r.GET("/res", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/res", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
