// Package runtime builds the running server from configuration.
package runtime

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	app "github.com/clothbridge/clothbridge/internal/app"
	"github.com/clothbridge/clothbridge/internal/app/httpapi"
	"github.com/clothbridge/clothbridge/internal/app/realtime"
	"github.com/clothbridge/clothbridge/internal/app/services/uploads"
	"github.com/clothbridge/clothbridge/internal/app/storage"
	"github.com/clothbridge/clothbridge/internal/app/storage/memory"
	"github.com/clothbridge/clothbridge/internal/app/storage/postgres"
	supabasestore "github.com/clothbridge/clothbridge/internal/app/storage/supabase"
	"github.com/clothbridge/clothbridge/internal/app/system"
	"github.com/clothbridge/clothbridge/internal/config"
	"github.com/clothbridge/clothbridge/internal/logging"
	"github.com/clothbridge/clothbridge/internal/middleware"
	"github.com/clothbridge/clothbridge/internal/pii"
	"github.com/clothbridge/clothbridge/internal/platform/migrations"
	"github.com/clothbridge/clothbridge/pkg/logger"
	"github.com/clothbridge/clothbridge/supabase/client"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	app     *app.Application
	handler http.Handler
	hub     *realtime.Hub
	audit   *httpapi.AuditLog
	db      *sql.DB
	redis   *redis.Client
}

// NewApplication constructs the application from cfg. A nil log is built
// from cfg.Logging.
func NewApplication(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.New(logger.LoggingConfig{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			Output:     cfg.Logging.Output,
			FilePrefix: cfg.Logging.FilePrefix,
		})
	}
	a := &Application{cfg: cfg, log: log}

	sb, err := newSupabaseClient(cfg.Supabase)
	if err != nil {
		return nil, fmt.Errorf("configure supabase: %w", err)
	}

	store, err := a.buildStore(sb)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("configure store: %w", err)
	}

	backend, err := a.buildUploads(ctx, sb)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("configure uploads: %w", err)
	}

	sealer, err := buildSealer(cfg.PII.Key)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("configure pii: %w", err)
	}
	if _, plain := sealer.(pii.Plain); plain {
		log.Warn("PII_ENCRYPTION_KEY not set; ration card numbers are stored in clear")
	}

	httpLog := logging.Wrap(log)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, httpLog)
	a.hub = realtime.NewHub(log, cfg.AllowedOrigins())

	var publisher realtime.Publisher = a.hub
	var bridge *realtime.RedisBridge
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		bridge = realtime.NewRedisBridge(a.redis, cfg.Redis.Channel, a.hub, log)
		publisher = bridge
	}

	deps := app.Dependencies{
		Store:     store,
		Uploads:   backend,
		Sealer:    sealer,
		Publisher: publisher,
		Limiter:   limiter,
	}
	if sb != nil {
		deps.Auth = sb.Auth()
		deps.Functions = sb.Functions()
	} else {
		log.Warn("SUPABASE_URL not set; auth and contact routes are disabled")
	}

	a.app, err = app.New(deps, app.Options{
		PublicURL:       cfg.Server.PublicURL,
		OAuthProviders:  []string{cfg.Auth.OAuthProvider},
		MaxImageBytes:   cfg.Uploads.MaxImageBytes,
		MaxRationCard:   cfg.Uploads.MaxRationCard,
		MaxImages:       cfg.Uploads.MaxImagesPerItem,
		UploadAttempts:  cfg.Uploads.Attempts,
		ContactFunction: cfg.Contact.Function,
		AdminEmail:      cfg.Contact.AdminEmail,
		Scheduler:       cfg.Scheduler.Enabled,
		Schedule:        cfg.Scheduler.Spec,
		PendingTTL:      cfg.Scheduler.PendingTTL,
		LimiterIdle:     cfg.RateLimit.IdleTTL,
	}, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("build application: %w", err)
	}

	a.audit, err = httpapi.NewAuditLog(500, cfg.Server.AuditLog)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	a.handler = httpapi.NewHandler(a.app, httpapi.Options{
		Auth:           middleware.NewAuthMiddleware([]byte(cfg.Supabase.JWTSecret), httpLog, cfg.AuthSkipPaths()),
		Limiter:        limiter,
		CORS:           middleware.NewCORSMiddleware(cfg.AllowedOrigins()),
		Hub:            a.hub,
		Audit:          a.audit,
		Log:            httpLog,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	if bridge != nil {
		if err := a.app.Attach(bridge); err != nil {
			a.close()
			return nil, err
		}
	}
	for _, svc := range []system.Service{
		hubService{hub: a.hub},
		newHTTPService(cfg.Server, a.handler, log),
	} {
		if err := a.app.Attach(svc); err != nil {
			a.close()
			return nil, err
		}
	}

	return a, nil
}

// App returns the composed services.
func (a *Application) App() *app.Application {
	return a.app
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// Run starts every service and blocks until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return err
	}
	a.log.Infof("clothbridge started with services %v", a.app.Services())
	<-ctx.Done()
	return nil
}

// Shutdown stops the services and releases connections.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := a.app.Stop(shutdownCtx)
	a.close()
	return err
}

func (a *Application) close() {
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.log.WithError(err).Warn("error closing audit log")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
}

func (a *Application) buildStore(sb *client.Client) (storage.Store, error) {
	switch a.cfg.Store.Driver {
	case "", "memory":
		a.log.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil
	case "postgres":
		db, err := openDatabase(a.cfg.Database)
		if err != nil {
			return nil, err
		}
		a.db = db
		if a.cfg.Database.AutoMigrate {
			if err := migrations.Up(db); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return postgres.New(db), nil
	case "supabase":
		if sb == nil {
			return nil, errors.New("supabase store needs SUPABASE_URL and a key")
		}
		return supabasestore.New(sb, a.log), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
	}
}

func (a *Application) buildUploads(ctx context.Context, sb *client.Client) (uploads.Backend, error) {
	u := a.cfg.Uploads
	switch u.Backend {
	case "s3":
		return uploads.NewS3Backend(ctx, uploads.S3Config{
			Bucket:         u.Bucket,
			Region:         a.cfg.S3.Region,
			Endpoint:       a.cfg.S3.Endpoint,
			PublicBaseURL:  a.cfg.S3.PublicBaseURL,
			ForcePathStyle: a.cfg.S3.ForcePathStyle,
			CacheControl:   u.CacheControl,
		})
	case "", "supabase":
		if sb == nil {
			a.log.Warn("SUPABASE_URL not set; keeping uploads in memory")
			return uploads.NewMemoryBackend(a.cfg.Server.PublicURL), nil
		}
		return uploads.NewSupabaseBackend(sb, u.Bucket, u.CacheControl), nil
	default:
		return nil, fmt.Errorf("unknown uploads backend %q", u.Backend)
	}
}

func newSupabaseClient(cfg config.SupabaseConfig) (*client.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	key := cfg.ServiceKey
	if key == "" {
		key = cfg.AnonKey
	}
	sbCfg := client.Config{URL: cfg.URL, APIKey: key}
	if !cfg.Resilience {
		return client.New(sbCfg)
	}
	c, _, err := client.NewResilient(sbCfg, client.DefaultResilienceOptions())
	return c, err
}

func buildSealer(raw string) (pii.Sealer, error) {
	if raw == "" {
		return pii.Plain{}, nil
	}
	key, err := parseEncryptionKey(raw)
	if err != nil {
		return nil, fmt.Errorf("PII_ENCRYPTION_KEY invalid: %w", err)
	}
	return pii.NewCipher(key)
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// OpenDatabase opens and pings the configured database.
func OpenDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	return openDatabase(cfg)
}

func parseEncryptionKey(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("missing encryption key")
	}

	// raw bytes
	if l := len(value); l == 16 || l == 24 || l == 32 {
		return []byte(value), nil
	}

	// base64
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		if l := len(decoded); l == 16 || l == 24 || l == 32 {
			return decoded, nil
		}
	}

	// hex
	if decoded, err := hex.DecodeString(value); err == nil {
		if l := len(decoded); l == 16 || l == 24 || l == 32 {
			return decoded, nil
		}
	}

	return nil, errors.New("must be raw 16/24/32 byte string or base64/hex encoding of that length")
}

// hubService closes websocket connections on shutdown.
type hubService struct {
	hub *realtime.Hub
}

func (hubService) Name() string                { return "realtime" }
func (hubService) Start(context.Context) error { return nil }

func (s hubService) Stop(context.Context) error {
	s.hub.Close()
	return nil
}

// httpService serves the API as a lifecycle-managed service.
type httpService struct {
	cfg    config.ServerConfig
	log    *logger.Logger
	server *http.Server
}

func newHTTPService(cfg config.ServerConfig, h http.Handler, log *logger.Logger) *httpService {
	return &httpService{
		cfg: cfg,
		log: log,
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           h,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
	}
}

func (s *httpService) Name() string { return "http" }

// Start binds the listener synchronously so address errors surface here.
func (s *httpService) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.log.Infof("HTTP server listening on %s", ln.Addr())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("HTTP server stopped")
		}
	}()
	return nil
}

func (s *httpService) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
