package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GermaMirn/LineGuard-AI/internal/apperr"
)

func TestWriteAPIErr_MapsKindToStatus(t *testing.T) {
	cases := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.KindValidation, http.StatusBadRequest},
		{apperr.KindOversize, http.StatusBadRequest},
		{apperr.KindNotFound, http.StatusNotFound},
		{apperr.KindUnavailable, http.StatusServiceUnavailable},
		{apperr.KindStorageUnavailable, http.StatusServiceUnavailable},
		{apperr.KindDetectorError, http.StatusBadGateway},
		{apperr.KindInternal, http.StatusInternalServerError},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		writeAPIErr(w, apperr.New(c.kind, "boom"))
		assert.Equal(t, c.want, w.Code, "kind %s", c.kind)
	}
}

func TestWriteJSON_SetsContentTypeAndStatus(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusAccepted, map[string]string{"ok": "yes"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"ok":"yes"}`, w.Body.String())
}
