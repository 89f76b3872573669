package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi"},
		{"Bearer   padded  ", "padded"},
		{"bearer abc", ""}, // scheme is case-sensitive
		{"Basic dXNlcg==", ""},
		{"", ""},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		if got := bearerToken(r); got != tc.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestRequireAdminKey(t *testing.T) {
	var called bool
	handler := RequireAdminKey("top-secret")(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	// Wrong key
	r := httptest.NewRequest("GET", "/admin/tokens", nil)
	r.Header.Set("X-Admin-Key", "wrong")
	w := httptest.NewRecorder()
	handler(w, r)
	if w.Code != http.StatusUnauthorized || called {
		t.Fatalf("wrong key: status %d, called %v", w.Code, called)
	}

	// Missing key
	r = httptest.NewRequest("GET", "/admin/tokens", nil)
	w = httptest.NewRecorder()
	handler(w, r)
	if w.Code != http.StatusUnauthorized || called {
		t.Fatalf("missing key: status %d, called %v", w.Code, called)
	}

	// Correct key
	r = httptest.NewRequest("GET", "/admin/tokens", nil)
	r.Header.Set("X-Admin-Key", "top-secret")
	w = httptest.NewRecorder()
	handler(w, r)
	if !called {
		t.Fatal("correct key did not reach the handler")
	}
}

func TestRequireAdminKey_DisabledWithoutKey(t *testing.T) {
	handler := RequireAdminKey("")(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler reached with admin surface disabled")
	})

	r := httptest.NewRequest("GET", "/admin/tokens", nil)
	r.Header.Set("X-Admin-Key", "")
	w := httptest.NewRecorder()
	handler(w, r)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", w.Code)
	}
}
