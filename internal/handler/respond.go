package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/sageinvest/kis-engine/internal/kiserr"
)

func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err != nil {
		return err
	}
	return sonic.Unmarshal(body, dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	out, err := sonic.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(out) //nolint:errcheck // response already committed
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": msg})
}

// writeError translates the engine's error taxonomy into HTTP statuses:
// validation 400, missing configuration 428, rejected auth 401,
// broker rate limit 429, everything else 500.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var validationErr *kiserr.ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": validationErr.Reason,
			"field": validationErr.Field,
		})
		return
	}

	switch {
	case errors.Is(err, kiserr.ErrConfiguration):
		writeJSON(w, http.StatusPreconditionRequired, map[string]any{"error": "broker credentials are not configured"})
	case errors.Is(err, kiserr.ErrAuthentication):
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "broker rejected credentials, re-authenticate"})
	default:
		if status, ok := kiserr.StatusOf(err); ok && status == http.StatusTooManyRequests {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "broker rate limit exceeded"})
			return
		}
		h.logger.Errorf("%s: request failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}
