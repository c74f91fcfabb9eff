// Package app wires storage, services and background workers into a running
// marketplace application.
package app

import (
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/saficlean/marketplace/internal/app/httpapi"
	"github.com/saficlean/marketplace/internal/app/metrics"
	"github.com/saficlean/marketplace/internal/app/services/auth"
	"github.com/saficlean/marketplace/internal/app/services/jobs"
	"github.com/saficlean/marketplace/internal/app/services/location"
	"github.com/saficlean/marketplace/internal/app/services/matching"
	"github.com/saficlean/marketplace/internal/app/services/notifications"
	"github.com/saficlean/marketplace/internal/app/services/payments"
	"github.com/saficlean/marketplace/internal/app/services/tracking"
	"github.com/saficlean/marketplace/internal/app/storage"
	"github.com/saficlean/marketplace/internal/app/storage/memory"
	"github.com/saficlean/marketplace/internal/app/system"
	"github.com/saficlean/marketplace/internal/cache"
	"github.com/saficlean/marketplace/internal/config"
	"github.com/saficlean/marketplace/pkg/logger"
)

// Stores groups the persistence interfaces the services consume. Any nil
// field is backed by a shared in-memory store, which keeps tests and local
// development free of external dependencies.
type Stores struct {
	Users         storage.UserStore
	Jobs          storage.JobStore
	Reviews       storage.ReviewStore
	Payments      storage.PaymentStore
	Routes        storage.RouteStore
	Locations     storage.LocationStore
	Notifications storage.NotificationStore
}

func (s *Stores) fillDefaults() {
	var mem *memory.Store
	fallback := func() *memory.Store {
		if mem == nil {
			mem = memory.New()
		}
		return mem
	}
	if s.Users == nil {
		s.Users = fallback()
	}
	if s.Jobs == nil {
		s.Jobs = fallback()
	}
	if s.Reviews == nil {
		s.Reviews = fallback()
	}
	if s.Payments == nil {
		s.Payments = fallback()
	}
	if s.Routes == nil {
		s.Routes = fallback()
	}
	if s.Locations == nil {
		s.Locations = fallback()
	}
	if s.Notifications == nil {
		s.Notifications = fallback()
	}
}

// Options configures application assembly. Redis is optional; without it the
// job cache is disabled and tracking sessions live in process memory.
type Options struct {
	Config *config.Config
	Stores Stores
	Redis  *redis.Client
	Log    *logger.Logger
}

// Application is the assembled marketplace.
type Application struct {
	Router   http.Handler
	Manager  *system.Manager
	Services httpapi.Services
	Metrics  *metrics.Metrics
}

// New assembles all services against the given stores and registers the
// background workers on a system manager. The caller starts and stops the
// manager around the HTTP server's lifetime.
func New(opts Options) (*Application, error) {
	cfg := opts.Config
	log := opts.Log
	if log == nil {
		log = logger.New("marketplace", cfg.LogLevel)
	}
	opts.Stores.fillDefaults()
	st := opts.Stores

	m := metrics.New()

	jobCache := cache.NewJobCache(opts.Redis, 0)

	var sessions tracking.SessionStore
	if opts.Redis != nil {
		sessions = tracking.NewRedisSessionStore(opts.Redis, 0)
	} else {
		sessions = tracking.NewMemorySessionStore()
	}

	var pusher notifications.Pusher
	if cfg.FCM.ServerKey != "" {
		pusher = notifications.NewFCMClient(cfg.FCM.ServerKey, "")
	}
	notifSvc := notifications.New(st.Notifications, st.Users, pusher, log.WithField("service", "notifications"))

	authSvc := auth.New(st.Users, auth.Config{
		SecretKey:       cfg.Auth.SecretKey,
		AccessTokenTTL:  time.Duration(cfg.Auth.AccessTokenMinutes) * time.Minute,
		RefreshTokenTTL: time.Duration(cfg.Auth.RefreshTokenDays) * 24 * time.Hour,
	}, log.WithField("service", "auth"))

	jobsSvc := jobs.New(st.Jobs, st.Users, st.Reviews, jobCache, notifSvc,
		jobs.Config{RatePerMinute: cfg.Business.RatePerMin},
		log.WithField("service", "jobs")).WithMetrics(m)

	matchSvc := matching.New(st.Jobs, st.Users, notifSvc,
		log.WithField("service", "matching")).WithMetrics(m)

	hub := tracking.NewHub(log.WithField("service", "tracking-hub"))

	trackSvc, err := tracking.New(jobsSvc, sessions, hub, notifSvc, tracking.Config{
		HoursStart: cfg.Business.HoursStart,
		HoursEnd:   cfg.Business.HoursEnd,
		Timezone:   cfg.Business.Timezone,
	}, log.WithField("service", "tracking"))
	if err != nil {
		return nil, err
	}
	trackSvc.WithMetrics(m)

	var stk payments.STKClient
	if cfg.Mpesa.ConsumerKey != "" {
		client, err := payments.NewMpesaClient(payments.MpesaConfig{
			ConsumerKey:    cfg.Mpesa.ConsumerKey,
			ConsumerSecret: cfg.Mpesa.ConsumerSecret,
			Passkey:        cfg.Mpesa.Passkey,
			ShortCode:      cfg.Mpesa.ShortCode,
			CallbackURL:    cfg.Mpesa.CallbackURL,
		})
		if err != nil {
			return nil, err
		}
		stk = client
	}
	paySvc := payments.New(st.Payments, st.Jobs, st.Users, stk, notifSvc,
		log.WithField("service", "payments")).WithMetrics(m)

	maps := location.NewMapsClient(cfg.Maps.APIKey, "")
	locSvc := location.New(st.Routes, st.Locations, st.Jobs, maps, hub,
		log.WithField("service", "location"))

	manager := system.NewManager()
	if err := manager.Register(hub); err != nil {
		return nil, err
	}
	sweeper := matching.NewSweeper(matchSvc, "", 0, log.WithField("service", "matching-sweeper"))
	if err := manager.Register(sweeper); err != nil {
		return nil, err
	}

	services := httpapi.Services{
		Auth:          authSvc,
		Jobs:          jobsSvc,
		Matching:      matchSvc,
		Tracking:      trackSvc,
		Payments:      paySvc,
		Location:      locSvc,
		Notifications: notifSvc,
		Hub:           hub,
	}

	router := httpapi.NewRouter(services, httpapi.Options{
		AllowedOrigins:     cfg.Auth.AllowedOrigins,
		RateLimitPerSecond: cfg.Auth.RateLimitPerSecond,
		RateLimitBurst:     cfg.Auth.RateLimitBurst,
		Metrics:            m,
	}, log.WithField("service", "httpapi"))

	return &Application{
		Router:   router,
		Manager:  manager,
		Services: services,
		Metrics:  m,
	}, nil
}
