// internal/api/handlers.go
package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"

	"verso/internal/errors"
	"verso/internal/logging"
	"verso/internal/query"
	"verso/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler serves the query surface over HTTP. Route names come from the
// service so they can be configured.
type Handler struct {
	svc     *service.Service
	routes  service.Routes
	baseURL string
	srvHome string
	logger  *logging.Logger
}

type Options struct {
	// BaseURL is appended to scheme and host to form the reported site.
	BaseURL string
	// SrvHome is served as static files outside the reserved routes.
	SrvHome string
	Logger  *logging.Logger
}

func NewHandler(svc *service.Service, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{
		svc:     svc,
		routes:  svc.Routes(),
		baseURL: opts.BaseURL,
		srvHome: opts.SrvHome,
		logger:  logger,
	}
}

// Register installs every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	meta := "/" + h.routes.Meta
	object := "/" + h.routes.Object
	versions := "/" + h.routes.Versions

	mux.HandleFunc("GET /health", healthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET "+meta, h.Meta)
	mux.HandleFunc("GET "+meta+"/{rest...}", h.Meta)

	mux.HandleFunc("GET "+object, h.Directory)
	mux.HandleFunc("GET "+object+"/{rest...}", h.Object)

	mux.HandleFunc("GET "+versions, h.Directory)
	mux.HandleFunc("GET "+versions+"/{rest...}", h.Versions)

	if h.srvHome != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(h.srvHome)))
	}
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy"}`))
}

func (h *Handler) Directory(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, h.routes.Object, "", service.FormatPlain)
}

func (h *Handler) Object(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, h.routes.Object, r.PathValue("rest"), service.FormatPlain)
}

func (h *Handler) Versions(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, h.routes.Versions, r.PathValue("rest"), service.FormatPlain)
}

// Meta serves repository metadata, or the structured form of another
// route when a path follows the meta route.
func (h *Handler) Meta(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(r.PathValue("rest"), "/")
	if rest == "" {
		h.metadata(w, r)
		return
	}
	route, sub, _ := strings.Cut(rest, "/")
	h.dispatch(w, r, route, sub, service.FormatJSON)
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, route, rest string, f service.Format) {
	rest = strings.Trim(rest, "/")

	var (
		out *service.Output
		err error
	)
	switch route {
	case h.routes.Meta:
		h.metadata(w, r)
		return
	case h.routes.Object:
		if rest == "" {
			out, err = h.svc.Directory(r.Context(), f)
			break
		}
		id, window, ok := query.SplitObject(rest)
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, nobody := r.URL.Query()["nobody"]
		out, err = h.svc.Object(r.Context(), id, window, nobody, f)
	case h.routes.Versions:
		if rest == "" {
			out, err = h.svc.Directory(r.Context(), f)
			break
		}
		out, err = h.svc.Versions(r.Context(), rest, f)
	default:
		http.NotFound(w, r)
		return
	}

	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOutput(w, out)
}

func (h *Handler) metadata(w http.ResponseWriter, r *http.Request) {
	meta, err := h.svc.Metadata(r.Context(), h.site(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", service.ContentTypeJSON)
	json.NewEncoder(w).Encode(meta)
}

func (h *Handler) site(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + h.baseURL
}

func writeOutput(w http.ResponseWriter, out *service.Output) {
	w.Header().Set("Content-Type", out.ContentType)
	if out.CacheControl != "" {
		w.Header().Set("Cache-Control", out.CacheControl)
	}
	w.Write(out.Body)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.StatusCode(err)
	if code >= http.StatusInternalServerError {
		h.logger.WithRequestID(r.Context()).Error("query failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		http.Error(w, http.StatusText(code), code)
		return
	}

	msg := http.StatusText(code)
	var e *errors.Error
	if stderrors.As(err, &e) {
		msg = e.Message
	}
	http.Error(w, msg, code)
}
