package httpapi

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GermaMirn/LineGuard-AI/internal/config"
)

// submitAPI builds a router whose collaborators are all nil: any code
// path that reaches the Task Store, Blob Gateway, or Queue panics and
// surfaces as a 500 through the Recoverer middleware. A 4xx response
// therefore proves the request was rejected before any row was inserted
// or any queue message published.
func submitAPI(cfg *config.Config) http.Handler {
	cfg.BackendLocal = true
	return NewRouter(&API{Config: cfg})
}

func submitConfig() *config.Config {
	return &config.Config{
		MaxBatchFiles:      50000,
		MaxBatchSizeBytes:  10 * 1024 * 1024 * 1024,
		PreviewLimit:       10,
		UploadPreviewLimit: 10,
	}
}

func multipartFiles(t *testing.T, names ...string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for _, n := range names {
		part, err := w.CreateFormFile("files", n)
		require.NoError(t, err)
		_, err = part.Write([]byte("image-bytes"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func postBatch(t *testing.T, h http.Handler, query string, names ...string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartFiles(t, names...)
	req := httptest.NewRequest("POST", "/predict/batch"+query, body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSubmitBatch_NoFilesRejected(t *testing.T) {
	w := postBatch(t, submitAPI(submitConfig()), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "at least one file")
}

func TestSubmitBatch_BadExtensionRejectedBeforeAnyWrite(t *testing.T) {
	w := postBatch(t, submitAPI(submitConfig()), "", "a.jpg", "b.gif", "c.jpg")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported file extension")
}

func TestSubmitBatch_ArchiveExtensionsRejected(t *testing.T) {
	for _, name := range []string{"bundle.zip", "bundle.tar"} {
		w := postBatch(t, submitAPI(submitConfig()), "", name)
		assert.Equal(t, http.StatusBadRequest, w.Code, "file %s", name)
	}
}

func TestSubmitBatch_TooManyFilesRejected(t *testing.T) {
	cfg := submitConfig()
	cfg.MaxBatchFiles = 3
	w := postBatch(t, submitAPI(cfg), "", "a.jpg", "b.jpg", "c.jpg", "d.jpg")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "too many files")
}

func TestSubmitBatch_CombinedSizeOverLimitRejected(t *testing.T) {
	cfg := submitConfig()
	cfg.MaxBatchSizeBytes = 10 // each test file carries 11 bytes
	w := postBatch(t, submitAPI(cfg), "", "a.jpg")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "exceeds the batch limit")
}

func TestSubmitBatch_PreviewLimitOutOfRangeIs422(t *testing.T) {
	h := submitAPI(submitConfig())
	for _, v := range []string{"0", "11", "-1", "abc"} {
		w := postBatch(t, h, "?preview_limit="+v, "a.jpg")
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "preview_limit=%s", v)
	}
}

func TestSubmitBatch_InvalidConfRejected(t *testing.T) {
	h := submitAPI(submitConfig())
	for _, v := range []string{"1.5", "-0.1", "abc"} {
		w := postBatch(t, h, "?conf="+v, "a.jpg")
		assert.Equal(t, http.StatusBadRequest, w.Code, "conf=%s", v)
	}
}

func TestParseSubmitQuery_ConfBoundariesAccepted(t *testing.T) {
	for _, v := range []string{"0", "1", "0.35"} {
		req := httptest.NewRequest("POST", "/predict/batch?conf="+v, nil)
		_, _, msg := parseSubmitQuery(req, 10)
		assert.Empty(t, msg, "conf=%s must be accepted", v)
	}
}

func TestParseSubmitQuery_Defaults(t *testing.T) {
	req := httptest.NewRequest("POST", "/predict/batch", nil)
	q, _, msg := parseSubmitQuery(req, 10)
	require.Empty(t, msg)
	assert.Equal(t, defaultConfidence, q.conf)
	assert.Equal(t, 10, q.previewCap)
	assert.Empty(t, q.routeName)
}

func TestParseSubmitQuery_RouteNameTooLongRejected(t *testing.T) {
	long := strings.Repeat("x", maxRouteNameLength+1)
	req := httptest.NewRequest("POST", "/predict/batch?route_name="+long, nil)
	_, status, msg := parseSubmitQuery(req, 10)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, msg)
}
