// Package runtime assembles the serving layer: configuration, model
// loading, stores, background jobs, and the HTTP server lifecycle.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/visasight/prediction-service/internal/app/domain/model"
	"github.com/visasight/prediction-service/internal/app/events"
	"github.com/visasight/prediction-service/internal/app/httpapi"
	"github.com/visasight/prediction-service/internal/app/inference"
	"github.com/visasight/prediction-service/internal/app/metrics"
	"github.com/visasight/prediction-service/internal/app/registry"
	"github.com/visasight/prediction-service/internal/app/services/predictor"
	"github.com/visasight/prediction-service/internal/app/storage"
	"github.com/visasight/prediction-service/internal/app/storage/memory"
	"github.com/visasight/prediction-service/internal/app/storage/postgres"
	redisstore "github.com/visasight/prediction-service/internal/app/storage/redis"
	"github.com/visasight/prediction-service/internal/app/system"
	"github.com/visasight/prediction-service/internal/config"
	"github.com/visasight/prediction-service/internal/logging"
	"github.com/visasight/prediction-service/internal/middleware"
)

// mirrorTTL bounds how long a stale descriptor survives in redis after the
// process dies.
const mirrorTTL = 24 * time.Hour

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg      *config.Config
	log      *logging.Logger
	registry *registry.Registry
	hub      *events.Hub
	manager  *system.Manager
	server   *http.Server
	models   storage.ModelStore
	db       *sql.DB
	rdb      *redis.Client
}

// NewApplication constructs a fully wired application instance.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logging.New("prediction-service", logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	app := &Application{
		cfg:     cfg,
		log:     log,
		manager: system.NewManager(log.WithField("component", "system")),
	}

	if cfg.Redis.Addr != "" {
		app.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	sink, err := app.buildSink()
	if err != nil {
		return nil, err
	}

	if err := app.buildRegistry(); err != nil {
		return nil, err
	}

	app.hub = events.NewHub(log.WithField("component", "events"))
	app.registry.OnSwitch(func(previous, next model.Descriptor) {
		app.hub.Publish(events.Event{
			Type:            events.TypeModelSwitched,
			PreviousVersion: previous.Version,
			ActiveVersion:   next.Version,
			Family:          string(next.Family),
			OccurredAt:      time.Now().UTC(),
		})
	})

	svc := predictor.New(predictor.Config{
		Registry: app.registry,
		Sink:     sink,
		Logger:   log.WithField("component", "predictor"),
		Timeout:  cfg.Models.InferenceTimeout,
	})

	recalibrator := predictor.NewRecalibrator(sink, svc.Estimator(), log.WithField("component", "recalibrator"))
	app.manager.Register(&recalibratorService{
		job:      recalibrator,
		schedule: cfg.Models.RecalibrateSchedule,
	})
	app.manager.Register(&hubService{hub: app.hub})

	rateLimiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, log)
	rateLimiter.StartCleanup(5 * time.Minute)

	var adminAuth *middleware.AdminAuth
	if cfg.Server.AdminJWTSecret != "" {
		adminAuth = middleware.NewAdminAuth(cfg.Server.AdminJWTSecret, log)
	} else {
		log.Warn("ADMIN_JWT_SECRET not set, model switch endpoint is unauthenticated")
	}

	handler := httpapi.NewHandler(httpapi.Config{
		Predictor: svc,
		Registry:  app.registry,
		Hub:       app.hub,
		Logger:    log.WithField("component", "httpapi"),
		AdminAuth: adminAuth,
	})

	chain := middleware.NewTracingMiddleware(log).Handler(
		middleware.NewCORSMiddleware(cfg.Server.AllowedOrigins).Handler(
			rateLimiter.Handler(
				metrics.InstrumentHandler(handler))))

	app.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return app, nil
}

// buildRegistry registers the mock adapter plus every trained artifact found
// in the models directory, then activates the configured default. Descriptor
// snapshots flow into the model store and, when configured, the redis
// mirror.
func (a *Application) buildRegistry() error {
	opts := []registry.Option{registry.WithMirror(storeMirror{store: a.models})}
	if a.rdb != nil {
		opts = append(opts, registry.WithMirror(redisstore.NewMirror(a.rdb, mirrorTTL)))
	}
	a.registry = registry.New(a.log.WithField("component", "registry"), opts...)

	ctx := context.Background()
	if err := a.registry.Register(ctx, inference.MockDescriptor(), inference.NewMock()); err != nil {
		return fmt.Errorf("register mock model: %w", err)
	}

	if a.lowMemory() {
		a.log.Warnf("total memory below %d MB, serving mock model only", a.cfg.Models.MinMemoryMB)
		return nil
	}

	loader := inference.NewLoader(a.cfg.Models.Dir)
	for _, family := range model.Families {
		if family == model.FamilyMock {
			continue
		}
		artifact, err := loader.Load(family)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			a.log.WithError(err).Warnf("skipping artifact for family %s", family)
			continue
		}
		adapter, err := buildAdapter(artifact)
		if err != nil {
			a.log.WithError(err).Warnf("skipping adapter for family %s", family)
			continue
		}
		descriptor, err := loader.Descriptor(artifact)
		if err != nil {
			a.log.WithError(err).Warnf("skipping descriptor for family %s", family)
			continue
		}
		if err := a.registry.Register(ctx, descriptor, adapter); err != nil {
			a.log.WithError(err).Warnf("register %s failed", descriptor.Version)
			continue
		}
		a.log.Infof("registered model %s (%s)", descriptor.Version, descriptor.Family)
	}

	target := a.cfg.Models.DefaultActive
	if target != "" && target != string(model.FamilyMock) {
		if _, err := a.registry.Switch(ctx, target); err != nil {
			a.log.WithError(err).Warnf("default model %q not available, staying on mock", target)
		}
	}
	return nil
}

func buildAdapter(artifact *inference.Artifact) (inference.Adapter, error) {
	switch artifact.Family {
	case model.FamilyTabularRF, model.FamilyTabularXGB:
		return inference.NewTabular(artifact)
	case model.FamilyTransformerClassifier:
		return inference.NewTransformerClassifier(artifact)
	case model.FamilyTransformerRegressor:
		return inference.NewTransformerRegressor(artifact)
	default:
		return nil, fmt.Errorf("no adapter for family %s", artifact.Family)
	}
}

// lowMemory reports whether the host has less memory than the transformer
// families need to serve safely.
func (a *Application) lowMemory() bool {
	if a.cfg.Models.MinMemoryMB == 0 {
		return false
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		a.log.WithError(err).Warn("cannot read system memory, assuming enough")
		return false
	}
	return vm.Total < a.cfg.Models.MinMemoryMB*1024*1024
}

// buildSink selects the prediction and model stores. An empty DSN keeps the
// in-memory store, which is the development default. Both backends serve the
// two ports from one instance.
func (a *Application) buildSink() (storage.PredictionStore, error) {
	if a.cfg.Database.DSN == "" {
		a.log.Info("no database configured, predictions held in memory")
		store := memory.New()
		a.models = store
		return store, nil
	}

	driver := a.cfg.Database.Driver
	if driver == "" {
		driver = "postgres"
	}
	db, err := sql.Open(driver, a.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := postgres.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	a.db = db
	store := postgres.New(db)
	a.models = store
	return store, nil
}

// storeMirror adapts the model store to the registry mirror port. The active
// flag rides on the snapshot rows themselves, so SaveActive has nothing
// extra to persist.
type storeMirror struct {
	store storage.ModelStore
}

func (m storeMirror) SaveDescriptor(ctx context.Context, d model.Descriptor) error {
	return m.store.SaveDescriptor(ctx, d)
}

func (m storeMirror) SaveActive(context.Context, string) error { return nil }

// Run starts the background services and the HTTP server, then blocks until
// the context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.manager.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown drains the HTTP server and stops the background services.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	err := a.server.Shutdown(shutdownCtx)

	a.manager.Stop(shutdownCtx)

	if a.db != nil {
		if closeErr := a.db.Close(); closeErr != nil {
			a.log.WithError(closeErr).Warn("error closing database connection")
		}
	}
	if a.rdb != nil {
		if closeErr := a.rdb.Close(); closeErr != nil {
			a.log.WithError(closeErr).Warn("error closing redis connection")
		}
	}
	return err
}

// recalibratorService adapts the recalibration job to the service lifecycle.
type recalibratorService struct {
	job      *predictor.Recalibrator
	schedule string
}

func (s *recalibratorService) Name() string { return "recalibrator" }

func (s *recalibratorService) Start(context.Context) error {
	return s.job.Start(s.schedule)
}

func (s *recalibratorService) Stop(context.Context) error {
	s.job.Stop()
	return nil
}

// hubService closes the websocket hub on shutdown.
type hubService struct {
	hub *events.Hub
}

func (s *hubService) Name() string { return "event-hub" }

func (s *hubService) Start(context.Context) error { return nil }

func (s *hubService) Stop(context.Context) error {
	s.hub.Close()
	return nil
}
