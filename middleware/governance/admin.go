package governance

import (
	"errors"
	"net/http"
	"strings"

	"governance-gateway/middleware/governance/application"
	"governance-gateway/middleware/governance/domain"

	"pkt.systems/pslog"
)

// UnlockHandler expõe o unlock administrativo: POST ?user_id=<id> -> 204.
//
// Autenticação/autorização do endpoint é responsabilidade de quem monta o mux.
func UnlockHandler(tracker *application.LockoutTracker, logger pslog.Logger) http.Handler {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if userID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}

		err := tracker.UnlockUser(r.Context(), userID)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, domain.ErrUserNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, domain.ErrCoordinationUnavailable), errors.Is(err, domain.ErrLockTimeout):
			logger.Warn("admin.unlock.unavailable", "user_id", userID, "error", err)
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		default:
			logger.Error("admin.unlock.failed", "user_id", userID, "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	})
}
