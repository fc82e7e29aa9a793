package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/GermaMirn/LineGuard-AI/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"detail": message})
}

// writeAPIErr maps an apperr.Kind to the HTTP status the propagation
// policy assigns it: Validation/Oversize to 400, NotFound to 404,
// Unavailable/StorageUnavailable to 503, DetectorError/AnnotatorError to
// 502, everything else to 500.
func writeAPIErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindOversize:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindUnavailable, apperr.KindStorageUnavailable:
		status = http.StatusServiceUnavailable
	case apperr.KindDetectorError, apperr.KindAnnotatorError:
		status = http.StatusBadGateway
	}
	writeError(w, status, err.Error())
}
