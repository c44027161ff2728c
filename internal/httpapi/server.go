package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/encnetwork/doctrans/internal/document"
	"github.com/encnetwork/doctrans/internal/download"
	"github.com/encnetwork/doctrans/internal/jobs"
	"github.com/encnetwork/doctrans/internal/service"
)

type Server struct {
	store     *jobs.Store
	downloads *download.Registry
	codecs    *document.Registry
	workspace *service.Workspace

	maxUploadBytes int64

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithMaxUploadBytes caps the total size of one multipart upload.
func WithMaxUploadBytes(limit int64) Option {
	return func(s *Server) { s.maxUploadBytes = limit }
}

func NewServer(store *jobs.Store, downloads *download.Registry, codecs *document.Registry, workspace *service.Workspace, opts ...Option) *Server {
	s := &Server{
		store:          store,
		downloads:      downloads,
		codecs:         codecs,
		workspace:      workspace,
		maxUploadBytes: 256 << 20,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/translate", s.handleTranslate)
	s.mux.HandleFunc("/api/jobs/", s.handleJobStatus)
	s.mux.HandleFunc("/api/queue/stats", s.handleQueueStats)
	s.mux.HandleFunc("/api/download/", s.handleDownload)
	s.mux.HandleFunc("/api/health", s.handleHealth)
}
