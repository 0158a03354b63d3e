// Package httpapi exposes the federation endpoints peers talk to:
// discovery documents, the receive inboxes and the public feed, plus the
// statistics document, media downloads and the session-bound queue runner.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/logging"
	"github.com/dmitrijs2005/fedinode/internal/server/media"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
	"github.com/dmitrijs2005/fedinode/internal/server/services"
	"github.com/gorilla/mux"
)

// Identities resolves local accounts and sessions.
type Identities interface {
	ByHandle(ctx context.Context, handle string) (*models.Identity, *models.Contact, error)
	ByGUID(ctx context.Context, guid string) (*models.Identity, *models.Contact, error)
	Authenticate(ctx context.Context, token string) (*services.Actor, error)
}

// Inbox accepts envelopes and drains queues.
type Inbox interface {
	ReceiveUser(ctx context.Context, guid string, body []byte) error
	ReceivePublic(ctx context.Context, body []byte) error
	Drain(ctx context.Context, actor *services.Actor, budget time.Duration) (services.DrainStats, error)
}

type Feeds interface {
	Export(ctx context.Context, guid string) ([]services.FeedEntry, error)
}

type Stats interface {
	Get(ctx context.Context) (*services.Statistics, error)
}

// Options carries the settings the handlers need from the node config.
type Options struct {
	BaseURL          string
	FirstBatchBudget time.Duration
	BatchBudget      time.Duration
	MaxBody          int64
}

type Server struct {
	address    string
	opts       Options
	identities Identities
	inbox      Inbox
	feeds      Feeds
	stats      Stats
	media      media.Store
	logger     logging.Logger
	router     *mux.Router
}

func NewServer(address string, opts Options, identities Identities, inbox Inbox, feeds Feeds, stats Stats,
	store media.Store, l logging.Logger) *Server {
	if opts.MaxBody <= 0 {
		opts.MaxBody = 10 << 20
	}
	s := &Server{
		address:    address,
		opts:       opts,
		identities: identities,
		inbox:      inbox,
		feeds:      feeds,
		stats:      stats,
		media:      store,
		logger:     l.With("module", "http_server"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/.well-known/host-meta", s.handleHostMeta).Methods(http.MethodGet)
	r.HandleFunc("/.well-known/webfinger", s.handleWebfingerQuery).Methods(http.MethodGet)
	r.HandleFunc("/webfinger/{uri}", s.handleWebfinger).Methods(http.MethodGet)
	r.HandleFunc("/hcard/{guid}", s.handleHCard).Methods(http.MethodGet)
	r.HandleFunc("/hcard/users/{guid}", s.handleHCard).Methods(http.MethodGet)
	r.HandleFunc("/receive/users/{guid}", s.handleReceiveUser).Methods(http.MethodPost)
	r.HandleFunc("/receive/public", s.handleReceivePublic).Methods(http.MethodPost)
	r.HandleFunc("/people/{guid}", s.handlePeople).Methods(http.MethodGet)
	r.HandleFunc("/statistics.json", s.handleStatistics).Methods(http.MethodGet)
	r.HandleFunc("/media/{key:.+}", s.handleMedia).Methods(http.MethodGet)
	r.HandleFunc("/queue/run", s.handleQueueRun).Methods(http.MethodPost)

	return r
}

// Handler is the routed handler, exposed for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
