// Package httpapi is the Intake API: the multipart submission endpoint,
// job/image read endpoints, the annotate and metrics mutators, and the
// two websocket upgrades that hand off into the Progress Hub. Routing
// follows go-chi/chi/v5's Mux convention; the submission endpoint carries
// a per-IP rate limit via go-chi/httprate since it is the one path an
// unbounded client could use to flood the pipeline.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/GermaMirn/LineGuard-AI/internal/annotator"
	"github.com/GermaMirn/LineGuard-AI/internal/blobgw"
	"github.com/GermaMirn/LineGuard-AI/internal/config"
	"github.com/GermaMirn/LineGuard-AI/internal/hub"
	"github.com/GermaMirn/LineGuard-AI/internal/queue"
	"github.com/GermaMirn/LineGuard-AI/internal/taskstore"
)

// allowedExtensions is the submission extension allowlist; zip/tar are
// never in this set and are therefore always rejected.
var allowedExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "tif": true, "tiff": true,
	"bmp": true, "dng": true, "raw": true, "nef": true, "cr2": true, "arw": true,
}

// API holds every collaborator the Intake API's handlers need.
type API struct {
	Store     *taskstore.Store
	Blob      *blobgw.Client
	Annotator *annotator.Client
	Queue     *queue.Queue
	Hub       *hub.Hub
	Config    *config.Config
}

// NewRouter builds the chi.Mux serving every route.
func NewRouter(a *API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth)

		r.With(httprate.LimitByIP(30, time.Minute)).Post("/predict/batch", a.handleSubmitBatch)

		r.Get("/analysis/tasks/{id}", a.handleGetJob)
		r.Get("/analysis/history", a.handleHistory)
		r.Get("/analysis/tasks/{id}/images", a.handleListImages)
		r.Delete("/analysis/tasks/{id}/images/{image_id}", a.handleDeleteImage)
		r.Delete("/analysis/tasks/{id}", a.handleDeleteJob)
		r.Post("/analysis/tasks/{id}/images/{iid}/annotate", a.handleAnnotate)
		r.Post("/analysis/tasks/{id}/images/{iid}/metrics", a.handleMetrics)
	})

	// Browsers cannot attach an Authorization header to a websocket
	// upgrade, so the read-only event streams stay open; they expose no
	// mutators and no blob contents.
	r.Get("/ws/tasks/{id}", a.handleWSJob)
	r.Get("/ws/history", a.handleWSHistory)

	return r
}
