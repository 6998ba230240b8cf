package app

import (
	"context"
	"fmt"
	"time"

	"github.com/clothbridge/clothbridge/internal/app/realtime"
	"github.com/clothbridge/clothbridge/internal/app/services/accounts"
	"github.com/clothbridge/clothbridge/internal/app/services/contact"
	"github.com/clothbridge/clothbridge/internal/app/services/dashboard"
	"github.com/clothbridge/clothbridge/internal/app/services/donations"
	"github.com/clothbridge/clothbridge/internal/app/services/housekeeping"
	"github.com/clothbridge/clothbridge/internal/app/services/listings"
	"github.com/clothbridge/clothbridge/internal/app/services/matching"
	"github.com/clothbridge/clothbridge/internal/app/services/requests"
	"github.com/clothbridge/clothbridge/internal/app/services/uploads"
	"github.com/clothbridge/clothbridge/internal/app/storage"
	"github.com/clothbridge/clothbridge/internal/app/storage/memory"
	"github.com/clothbridge/clothbridge/internal/app/system"
	"github.com/clothbridge/clothbridge/internal/pii"
	"github.com/clothbridge/clothbridge/pkg/logger"
)

// Dependencies are the external collaborators. Nil fields fall back to
// in-process defaults, except Auth and Functions which leave the matching
// services unset.
type Dependencies struct {
	Store     storage.Store
	Uploads   uploads.Backend
	Auth      accounts.Authenticator
	Functions contact.Invoker
	Sealer    pii.Sealer
	Publisher realtime.Publisher
	// Limiter is pruned by the housekeeping scheduler when set.
	Limiter housekeeping.Pruner
}

// Options tune the services.
type Options struct {
	PublicURL       string
	OAuthProviders  []string
	MaxImageBytes   int64
	MaxRationCard   int64
	MaxImages       int
	UploadAttempts  int
	ContactFunction string
	AdminEmail      string

	Scheduler   bool
	Schedule    string
	PendingTTL  time.Duration
	LimiterIdle time.Duration
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Store     storage.Store
	Uploads   *uploads.Service
	Accounts  *accounts.Service
	Donations *donations.Service
	Requests  *requests.Service
	Matching  *matching.Service
	Listings  *listings.Service
	Dashboard *dashboard.Service
	Contact   *contact.Service
	Scheduler *housekeeping.Scheduler
}

// New builds a fully initialised application.
func New(deps Dependencies, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if deps.Store == nil {
		deps.Store = memory.New()
	}
	if deps.Uploads == nil {
		deps.Uploads = uploads.NewMemoryBackend("")
	}
	if deps.Sealer == nil {
		deps.Sealer = pii.Plain{}
	}
	if deps.Publisher == nil {
		deps.Publisher = realtime.Discard{}
	}

	application := &Application{manager: system.NewManager(), log: log, Store: deps.Store}

	application.Uploads = uploads.New(deps.Uploads, opts.UploadAttempts, log)
	application.Donations = donations.New(deps.Store, application.Uploads, log).
		WithLimits(opts.MaxImageBytes, opts.MaxImages).
		WithPublisher(deps.Publisher)
	application.Requests = requests.New(deps.Store, application.Uploads, deps.Sealer, log).
		WithPhotoLimit(opts.MaxRationCard).
		WithPublisher(deps.Publisher)
	application.Matching = matching.New(deps.Store, log).WithPublisher(deps.Publisher)
	application.Listings = listings.New(deps.Store, log)
	application.Dashboard = dashboard.New(deps.Store, application.Requests, log)

	if deps.Auth != nil {
		application.Accounts = accounts.New(deps.Auth, opts.PublicURL, log).WithProviders(opts.OAuthProviders...)
	}
	if deps.Functions != nil {
		application.Contact = contact.New(deps.Functions, opts.ContactFunction, opts.AdminEmail, log)
	}

	for _, name := range []string{"accounts", "donations", "requests", "matching", "listings", "dashboard", "contact"} {
		if err := application.manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	if opts.Scheduler {
		sched := housekeeping.New(opts.Schedule, log).WithMatchExpiry(application.Matching, opts.PendingTTL)
		if deps.Limiter != nil {
			sched.WithLimiter(deps.Limiter, opts.LimiterIdle)
		}
		if err := application.manager.Register(sched); err != nil {
			return nil, fmt.Errorf("register housekeeping: %w", err)
		}
		application.Scheduler = sched
	}

	return application, nil
}

// Attach registers an additional lifecycle-managed service.
func (a *Application) Attach(svc system.Service) error {
	return a.manager.Register(svc)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Services lists the registered service names in start order.
func (a *Application) Services() []string {
	return a.manager.Names()
}
