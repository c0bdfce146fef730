package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/session-keeper/internal/ratelimit"
)

// RouteConfig carries the collaborators SetupRoutes mounts
type RouteConfig struct {
	Profiles      *ProfileHandler
	Console       http.Handler
	Limiter       *ratelimit.Limiter
	VerifyPerHour int
	Logger        *zap.Logger

	// TrustProxy keys the verify limit on X-Forwarded-For
	TrustProxy bool
}

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(cfg RouteConfig) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/db-status", h.DBStatus).Methods("GET")
	r.HandleFunc("/status", h.Status).Methods("GET")
	r.HandleFunc("/upload-csv", h.UploadCSV).Methods("POST", "OPTIONS")

	// Credential check (rate limited per client)
	limited := RateLimitMiddleware(cfg.Limiter, cfg.VerifyPerHour, cfg.TrustProxy)
	r.Handle("/verify-api", limited(http.HandlerFunc(h.VerifyAPI))).Methods("POST", "OPTIONS")

	// Processing endpoints (gated)
	gated := RequireVerified(h.Verified)
	r.Handle("/start-processing", gated(http.HandlerFunc(h.StartProcessing))).Methods("POST", "OPTIONS")
	r.Handle("/process-next", gated(http.HandlerFunc(h.ProcessNext))).Methods("POST", "OPTIONS")

	// Stored profiles
	r.HandleFunc("/profiles", cfg.Profiles.ListProfiles).Methods("GET")
	r.HandleFunc("/delete-profile", cfg.Profiles.DeleteProfile).Methods("POST", "OPTIONS")
	r.HandleFunc("/profiles/{id}/archive", cfg.Profiles.ArchiveProfile).Methods("GET")

	if cfg.Console != nil {
		r.Handle("/console", cfg.Console).Methods("GET")
	}

	if cfg.Logger != nil {
		r.Use(LoggingMiddleware(cfg.Logger.Named("http")))
	}
	r.Use(corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
