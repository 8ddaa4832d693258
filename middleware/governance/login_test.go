package governance

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeAuth aceita apenas a senha "secret".
func fakeAuth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err == nil && r.PostForm.Get("password") == "secret" {
			w.WriteHeader(http.StatusOK)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), `"password":"secret"`) {
			_, _ = w.Write([]byte("welcome"))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	})
}

func formLogin(h http.Handler, user, pass string) *httptest.ResponseRecorder {
	body := "username=" + user + "&password=" + pass
	r := httptest.NewRequest(http.MethodPost, "http://example/login", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestLoginGuard_LocksAfterThreshold(t *testing.T) {
	f := newFixture(t)
	h := LoginGuard(LoginOptions{Pipeline: f.pipeline})(fakeAuth())

	for i := 0; i < 2; i++ {
		if w := formLogin(h, "alice", "wrong"); w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, w.Code)
		}
	}

	w := formLogin(h, "alice", "secret")
	if w.Code != http.StatusLocked {
		t.Fatalf("expected 423 for locked account, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got == "" {
		t.Fatalf("expected Retry-After header to be set")
	}

	if w := formLogin(h, "bob", "secret"); w.Code != http.StatusOK {
		t.Fatalf("expected other user to log in, got %d", w.Code)
	}
}

func TestLoginGuard_SuccessResetsCounter(t *testing.T) {
	f := newFixture(t)
	h := LoginGuard(LoginOptions{Pipeline: f.pipeline})(fakeAuth())

	formLogin(h, "alice", "wrong")
	if w := formLogin(h, "alice", "secret"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	formLogin(h, "alice", "wrong")

	if _, locked, _ := f.tracker.IsLockedOut(context.Background(), "alice"); locked {
		t.Fatalf("expected success to reset the failure counter")
	}
}

func TestLoginGuard_JSONBodyAndImplicitOK(t *testing.T) {
	f := newFixture(t)
	h := LoginGuard(LoginOptions{Pipeline: f.pipeline})(fakeAuth())

	post := func(body string) int {
		r := httptest.NewRequest(http.MethodPost, "http://example/login", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json; charset=utf-8")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	if code := post(`{"username":"carol","password":"bad"}`); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	// sucesso sem WriteHeader explícito conta como 200
	if code := post(`{"username":"carol","password":"secret"}`); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	post(`{"username":"carol","password":"bad"}`)
	if _, locked, _ := f.tracker.IsLockedOut(context.Background(), "carol"); locked {
		t.Fatalf("expected implicit 200 to reset the counter")
	}
}

func TestLoginGuard_RejectsOversizedBody(t *testing.T) {
	f := newFixture(t)
	h := LoginGuard(LoginOptions{Pipeline: f.pipeline, MaxBodyBytes: 16})(fakeAuth())

	w := formLogin(h, "alice", strings.Repeat("x", 32))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestLoginGuard_IgnoresNonPost(t *testing.T) {
	f := newFixture(t)
	calls := 0
	h := LoginGuard(LoginOptions{Pipeline: f.pipeline})(okHandler(&calls))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/login", nil))
	if w.Code != http.StatusOK || calls != 1 {
		t.Fatalf("expected GET to pass through, got %d", w.Code)
	}
}

func TestExtractUsername(t *testing.T) {
	tests := []struct {
		ct, body, want string
	}{
		{"application/json", `{"username":" Dave "}`, "Dave"},
		{"application/json", `{"username":42}`, ""},
		{"application/x-www-form-urlencoded", "username=erin&password=x", "erin"},
		{"text/plain", "username=erin", ""},
		{"application/json", `not json`, ""},
	}
	for _, tt := range tests {
		if got := extractUsername(tt.ct, []byte(tt.body), "username"); got != tt.want {
			t.Fatalf("%s %q: expected %q, got %q", tt.ct, tt.body, tt.want, got)
		}
	}
}

func TestLoginGuard_UpstreamCanFlush(t *testing.T) {
	f := newFixture(t)
	var flushErr error
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		flushErr = http.NewResponseController(w).Flush()
	})
	h := LoginGuard(LoginOptions{Pipeline: f.pipeline})(next)

	r := httptest.NewRequest(http.MethodPost, "http://example/login", strings.NewReader(`{"username":"alice"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if flushErr != nil {
		t.Fatalf("expected flush through the wrapped writer, got %v", flushErr)
	}
	if !w.Flushed {
		t.Fatalf("expected recorder to be flushed")
	}
}
