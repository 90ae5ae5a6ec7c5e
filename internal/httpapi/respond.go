package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/shipyard/bay/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps an apierr.Kind (or a plain error, treated as Internal) to
// its HTTP status and writes a JSON error body.
func writeError(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	writeJSON(w, kind.Status(), map[string]string{
		"error": err.Error(),
		"kind":  string(kind),
	})
}
