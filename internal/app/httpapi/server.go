// Package httpapi exposes the marketplace over REST and WebSocket.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/saficlean/marketplace/internal/app/metrics"
	"github.com/saficlean/marketplace/internal/app/services/auth"
	"github.com/saficlean/marketplace/internal/app/services/jobs"
	"github.com/saficlean/marketplace/internal/app/services/location"
	"github.com/saficlean/marketplace/internal/app/services/matching"
	"github.com/saficlean/marketplace/internal/app/services/notifications"
	"github.com/saficlean/marketplace/internal/app/services/payments"
	"github.com/saficlean/marketplace/internal/app/services/tracking"
	"github.com/saficlean/marketplace/internal/middleware"
	"github.com/saficlean/marketplace/pkg/logger"
)

// publicPaths skip bearer authentication.
var publicPaths = []string{
	"/healthz",
	"/metrics",
	"/api/v1/auth/register",
	"/api/v1/auth/login",
	"/api/v1/auth/refresh",
	"/api/v1/auth/verify-email",
	"/api/v1/auth/password-reset/request",
	"/api/v1/auth/password-reset/confirm",
	"/api/v1/payments/mpesa-callback",
}

// Services bundles everything the HTTP layer fronts.
type Services struct {
	Auth          *auth.Service
	Jobs          *jobs.Service
	Matching      *matching.Service
	Tracking      *tracking.Service
	Payments      *payments.Service
	Location      *location.Service
	Notifications *notifications.Service
	Hub           *tracking.Hub
}

// Options tunes the middleware chain.
type Options struct {
	AllowedOrigins     string
	RateLimitPerSecond int
	RateLimitBurst     int
	Metrics            *metrics.Metrics
}

// Handler is the HTTP surface.
type Handler struct {
	svc Services
	log *logger.Logger
}

// NewRouter builds the full router with middleware applied.
func NewRouter(svc Services, opts Options, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &Handler{svc: svc, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	api.HandleFunc("/auth/refresh", h.refresh).Methods(http.MethodPost)
	api.HandleFunc("/auth/me", h.me).Methods(http.MethodGet)
	api.HandleFunc("/auth/me", h.updateProfile).Methods(http.MethodPatch)
	api.HandleFunc("/auth/me/fcm-token", h.updateFCMToken).Methods(http.MethodPut)
	api.HandleFunc("/auth/verify-email/request", h.requestEmailVerification).Methods(http.MethodPost)
	api.HandleFunc("/auth/verify-email", h.confirmEmail).Methods(http.MethodPost)
	api.HandleFunc("/auth/password-reset/request", h.requestPasswordReset).Methods(http.MethodPost)
	api.HandleFunc("/auth/password-reset/confirm", h.confirmPasswordReset).Methods(http.MethodPost)
	api.HandleFunc("/users/{user_id}/verify", h.verifyCleaner).Methods(http.MethodPost)

	api.HandleFunc("/jobs", h.createJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs", h.listJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/open", h.openJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/suggestions", h.jobSuggestions).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{job_id}", h.getJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{job_id}/accept", h.acceptJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/cancel", h.cancelJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/matches", h.jobMatches).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{job_id}/slots", h.proposeSlot).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/slots", h.listSlots).Methods(http.MethodGet)
	api.HandleFunc("/slots/{slot_id}/respond", h.respondSlot).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/reviews", h.addReview).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/reviews", h.listReviews).Methods(http.MethodGet)

	api.HandleFunc("/jobs/{job_id}/tracking/start", h.trackingStart).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/tracking/pause", h.trackingPause).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/tracking/resume", h.trackingResume).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/tracking/stop", h.trackingStop).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/tracking", h.trackingStatus).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{job_id}/track", h.trackSocket).Methods(http.MethodGet)

	api.HandleFunc("/payments/initiate", h.initiatePayment).Methods(http.MethodPost)
	api.HandleFunc("/payments/mpesa-callback", h.mpesaCallback).Methods(http.MethodPost)
	api.HandleFunc("/payments/{payment_id}", h.getPayment).Methods(http.MethodGet)
	api.HandleFunc("/payments/{payment_id}/refresh", h.refreshPayment).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/payments", h.jobPayments).Methods(http.MethodGet)

	api.HandleFunc("/location/geocode", h.geocode).Methods(http.MethodGet)
	api.HandleFunc("/location/reverse-geocode", h.reverseGeocode).Methods(http.MethodGet)
	api.HandleFunc("/location/distance-matrix", h.distanceMatrix).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/route", h.routeToJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/location", h.recordLocation).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/location", h.locationHistory).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{job_id}/eta", h.jobETA).Methods(http.MethodGet)

	api.HandleFunc("/notifications", h.listNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{notification_id}/read", h.markNotificationRead).Methods(http.MethodPost)

	var handler http.Handler = r
	if opts.Metrics != nil {
		handler = opts.Metrics.Instrument("api", handler)
	}
	limiter := middleware.NewRateLimiter(opts.RateLimitPerSecond, opts.RateLimitBurst)
	handler = limiter.Middleware(handler)
	handler = middleware.Auth(svc.Auth, publicPaths...)(handler)
	handler = middleware.CORS(opts.AllowedOrigins)(handler)
	return handler
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
