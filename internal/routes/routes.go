package routes

import (
	"net/http"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/handlers"
	"github.com/BradenHooton/keystone/internal/middleware"
	pkghttp "github.com/BradenHooton/keystone/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Config tunes route-level middleware
type Config struct {
	IPConfig         *pkghttp.IPConfig
	PublicRateLimit  int // per client IP per minute
	AccountRateLimit int // per subject per minute
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	mfaHandler *handlers.MFAHandler,
	validator auth.TokenValidator,
	health http.HandlerFunc,
	config Config,
) {
	public := middleware.RateLimitByIP(middleware.RateLimitConfig{
		RequestsPerMinute: config.PublicRateLimit,
		IPConfig:          config.IPConfig,
	})
	account := middleware.RateLimitByUser(middleware.RateLimitConfig{
		RequestsPerMinute: config.AccountRateLimit,
		IPConfig:          config.IPConfig,
	})

	router.Get("/health", health)

	// Public routes - no authentication required
	router.Route("/auth", func(r chi.Router) {
		r.With(public).Post("/login", authHandler.Login)
		r.With(public).Post("/mfa/verify", authHandler.VerifyMFA)
		r.With(public).Post("/refresh", authHandler.Refresh)

		// Protected routes - authentication required
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(validator))
			r.Use(account)

			r.Post("/logout", authHandler.Logout)
			r.Post("/logout-all", authHandler.LogoutAll)
			r.Get("/sessions", authHandler.ListSessions)

			r.Post("/mfa/setup", mfaHandler.Setup)
			r.Post("/mfa/confirm", mfaHandler.Confirm)
			r.Post("/mfa/disable", mfaHandler.Disable)
			r.Post("/mfa/recovery-codes", mfaHandler.RegenerateRecoveryCodes)
		})
	})
}
