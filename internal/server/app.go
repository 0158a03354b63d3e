// Package server wires the federation node together: storage, media,
// outbound HTTP, the federation services, and the two listeners (the public
// federation endpoints and the gRPC admin API).
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/fedinode/internal/federation/webfinger"
	"github.com/dmitrijs2005/fedinode/internal/logging"
	"github.com/dmitrijs2005/fedinode/internal/netx"
	"github.com/dmitrijs2005/fedinode/internal/server/auth"
	"github.com/dmitrijs2005/fedinode/internal/server/config"
	"github.com/dmitrijs2005/fedinode/internal/server/httpapi"
	"github.com/dmitrijs2005/fedinode/internal/server/media"
	"github.com/dmitrijs2005/fedinode/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/fedinode/internal/server/services"

	gs "github.com/dmitrijs2005/fedinode/internal/server/grpc"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	media       media.Store

	identities *services.IdentityService
	feeds      *services.FeedService
	stats      *services.StatsService
	queue      *services.QueueService
	publisher  *services.Publisher
}

// newRepositoryManager opens PostgreSQL, or falls back to process memory
// when no DSN is configured.
func newRepositoryManager(c *config.Config) (repomanager.RepositoryManager, *sql.DB, error) {
	if c.DatabaseDSN == "" {
		return repomanager.NewMemoryRepositoryManager(), nil, nil
	}
	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	m, err := repomanager.NewPostgresRepositoryManager(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return m, db, nil
}

func newMediaStore(c *config.Config) (media.Store, error) {
	switch c.MediaBackend {
	case config.MediaBackendS3:
		return media.NewS3Store(media.S3Config{
			Region:       c.S3Region,
			User:         c.S3RootUser,
			Password:     c.S3RootPassword,
			BaseEndpoint: c.S3BaseEndpoint,
			Bucket:       c.S3Bucket,
		}), nil
	case config.MediaBackendMemory:
		return media.NewMemoryStore(c.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown media backend %q", c.MediaBackend)
	}
}

func NewApp(c *config.Config) (*App, error) {

	logger := logging.New(os.Stdout, c.LogLevel)

	rm, db, err := newRepositoryManager(c)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	store, err := newMediaStore(c)
	if err != nil {
		return nil, err
	}

	fetcher := netx.NewClient(c.FetchTimeout)
	transport := netx.NewClient(c.DeliveryTimeout)
	discover := webfinger.NewClient(fetcher, logger)

	guids := services.NewGUIDs(c.SecretKey)
	identities := services.NewIdentityService(rm, c, auth.NewKeyring(), guids, logger)
	feeds := services.NewFeedService(rm, fetcher, store, logger)

	resolver, err := services.NewResolver(rm, discover, fetcher, store, feeds, c.ContactCacheSize, logger)
	if err != nil {
		return nil, fmt.Errorf("resolver init error: %w", err)
	}

	planner := services.NewPlanner(rm, transport, store, c.DeliveryConcurrency, logger)
	dispatcher := services.NewDispatcher(rm, resolver, planner, feeds, store, fetcher, c.InsecureCompat, logger)

	return &App{
		config:      c,
		logger:      logger,
		db:          db,
		repomanager: rm,
		media:       store,
		identities:  identities,
		feeds:       feeds,
		stats:       services.NewStatsService(rm, c.Hostname(), c.RegistrationsOpen),
		queue:       services.NewQueueService(rm, dispatcher, resolver, logger),
		publisher:   services.NewPublisher(rm, planner, resolver, guids, store, logger),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.identities, app.queue, app.publisher,
		app.config.QueueBatchBudget)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := httpapi.NewServer(app.config.EndpointAddrHTTP, httpapi.Options{
		BaseURL:          app.config.BaseURL,
		FirstBatchBudget: app.config.QueueFirstBatchBudget,
		BatchBudget:      app.config.QueueBatchBudget,
	}, app.identities, app.queue, app.feeds, app.stats, app.media, app.logger)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "base_url", app.config.BaseURL)

	if err := app.repomanager.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if app.db != nil {
		defer app.db.Close()
	}

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.logger.Info(context.Background(), "Stopped")
	return nil
}
