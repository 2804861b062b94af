package routes

import (
	"github.com/fabrixhq/fieldops/internal/auth"
	"github.com/fabrixhq/fieldops/internal/handlers"
	"github.com/fabrixhq/fieldops/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	guard *auth.Guard,
	authHandler *handlers.AuthHandler,
	workOrderHandler *handlers.WorkOrderHandler,
	achievementHandler *handlers.AchievementHandler,
) {
	// Rate limiting config for credential endpoints
	rateLimitConfig := middleware.DefaultLoginRateLimit()

	// Public routes - no authentication required
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/refresh", authHandler.Refresh)

	// Protected routes - the guard resolves the user fresh on every request
	router.Get("/auth/me", guard.Require(authHandler.Me))
	router.Post("/auth/logout", guard.Require(authHandler.Logout))

	router.Post("/workorders/{id}/accept", guard.Require(workOrderHandler.Accept))

	router.Route("/mobile", func(r chi.Router) {
		r.Get("/my-workorders", guard.Require(workOrderHandler.ListMine))
		r.Post("/workorders/{id}/in-progress", guard.Require(workOrderHandler.StartWork))
		r.Post("/workorders/{id}/submit", guard.Require(workOrderHandler.Submit))
		r.Get("/uploads/workorders/{wo}/{update}/{filename}", guard.Require(workOrderHandler.ServeUpload))
		r.Get("/achievement", guard.Require(achievementHandler.Get))
	})
}
