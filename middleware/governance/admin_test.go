package governance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestUnlockHandler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := f.tracker.RecordFailedLogin(ctx, "alice"); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if _, locked, _ := f.tracker.IsLockedOut(ctx, "alice"); !locked {
		t.Fatalf("expected alice locked before unlock")
	}

	h := UnlockHandler(f.tracker, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "http://example/admin/lockout/unlock?user_id=7", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if _, locked, _ := f.tracker.IsLockedOut(ctx, "alice"); locked {
		t.Fatalf("expected alice unlocked")
	}
}

func TestUnlockHandler_Errors(t *testing.T) {
	f := newFixture(t)
	h := UnlockHandler(f.tracker, nil)

	tests := []struct {
		method, url string
		want        int
	}{
		{http.MethodGet, "http://example/admin/lockout/unlock?user_id=7", http.StatusMethodNotAllowed},
		{http.MethodPost, "http://example/admin/lockout/unlock", http.StatusBadRequest},
		{http.MethodPost, "http://example/admin/lockout/unlock?user_id=99", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(tt.method, tt.url, nil))
		if w.Code != tt.want {
			t.Fatalf("%s %s: expected %d, got %d", tt.method, tt.url, tt.want, w.Code)
		}
	}

	f.store.SetUnavailable(true)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "http://example/admin/lockout/unlock?user_id=7", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while store is down, got %d", w.Code)
	}
}
