package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

func respondWithJSON(w http.ResponseWriter, logger *slog.Logger, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// respondWithError writes a categorized rejection. reason is a fixed token,
// never raw error text.
func respondWithError(w http.ResponseWriter, logger *slog.Logger, code int, reason string) {
	respondWithJSON(w, logger, code, map[string]string{"error": reason})
}
