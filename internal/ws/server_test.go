package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mep-live/mep/internal/status"
)

func newTestServer(t *testing.T, origins []string, token string) (*httptest.Server, *status.Tracker) {
	t.Helper()
	tracker := status.NewTracker()
	b := NewBroadcaster(tracker, 50*time.Millisecond, time.Hour)
	t.Cleanup(b.Stop)

	s := NewServer(tracker, b, origins, token)
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, tracker
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	securityHeaders(inner).ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"X-XSS-Protection":        "1; mode=block",
		"Content-Security-Policy": "default-src 'self'",
	}

	for header, expected := range want {
		if got := rec.Header().Get(header); got != expected {
			t.Errorf("header %s = %q, want %q", header, got, expected)
		}
	}
}

func TestStatusEndpointServesSnapshot(t *testing.T) {
	srv, tracker := newTestServer(t, nil, "")
	tracker.ScriptStarted("transpose.lua", 1)

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var st struct {
		RunID  string `json:"run_id"`
		Phase  string `json:"phase"`
		Script string `json:"script"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.RunID == "" {
		t.Error("run_id is empty")
	}
	if st.Phase != "running" || st.Script != "transpose.lua" {
		t.Errorf("state = %q %q, want running transpose.lua", st.Phase, st.Script)
	}
}

func TestHealthzNeedsNoToken(t *testing.T) {
	srv, _ := newTestServer(t, nil, "sesame")

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestAuthorizeToken(t *testing.T) {
	srv, _ := newTestServer(t, nil, "sesame")

	tests := []struct {
		name  string
		setup func(*http.Request)
		want  int
	}{
		{"no credentials", func(*http.Request) {}, http.StatusUnauthorized},
		{"query token", func(r *http.Request) {
			q := r.URL.Query()
			q.Set("token", "sesame")
			r.URL.RawQuery = q.Encode()
		}, http.StatusOK},
		{"header token", func(r *http.Request) {
			r.Header.Set("X-Mep-Token", "sesame")
		}, http.StatusOK},
		{"bearer token", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer sesame")
		}, http.StatusOK},
		{"wrong bearer", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer guess")
		}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/status", nil)
			if err != nil {
				t.Fatal(err)
			}
			tt.setup(req)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestCheckOriginDefaultsToLoopback(t *testing.T) {
	s := NewServer(status.NewTracker(), nil, nil, "")

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://localhost", true},
		{"http://127.0.0.1:9999", true},
		{"http://[::1]:7000", true},
		{"http://evil.example.com", false},
		{"http://localhost.evil.com", false},
		{"http://mep.local:8532", true}, // matches the request host
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Host = "mep.local:8532"
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestCheckOriginAllowlistWins(t *testing.T) {
	s := NewServer(status.NewTracker(), nil, []string{"http://studio.local:8080"}, "")

	tests := []struct {
		origin string
		want   bool
	}{
		{"http://studio.local:8080", true},
		{"http://studio.local:9999", false},
		{"http://localhost:3000", false}, // allowlist disables the loopback default
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Header.Set("Origin", tt.origin)
			if got := s.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
