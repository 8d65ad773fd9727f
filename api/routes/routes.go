package routes

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/exp/slog"

	"github.com/chainpot/keeper/internal/config"
	"github.com/chainpot/keeper/internal/handlers"
	"github.com/chainpot/keeper/internal/middleware"
)

// SetupRouter sets up the operator API router
func SetupRouter(cfg *config.Config, logger *slog.Logger, authHandler *handlers.AuthHandler, potHandler *handlers.PotHandler, keeperHandler *handlers.KeeperHandler) *gin.Engine {
	// Create router
	router := gin.New()
	router.Use(gin.Recovery())

	// Add middleware
	router.Use(middleware.CORS(cfg))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))

	// Public routes
	public := router.Group("/api/v1")
	{
		// Health check
		public.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status": "ok",
			})
		})

		// Auth routes
		auth := public.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
		}
	}

	// Protected routes
	protected := router.Group("/api/v1")
	protected.Use(middleware.Auth(cfg))
	{
		// Mutations require the admin role; viewers stay read-only.
		admin := middleware.RequireRole("admin")

		// Pot routes
		pots := protected.Group("/pots")
		{
			pots.GET("", potHandler.GetPots)
			pots.GET("/:id", potHandler.GetPot)
			pots.GET("/:id/settlement", potHandler.GetSettlement)
			pots.POST("/:id/watch", admin, potHandler.WatchPot)
			pots.DELETE("/:id/watch", admin, potHandler.UnwatchPot)
			pots.POST("/:id/retry", admin, potHandler.RetryPot)
		}

		// Archive routes
		protected.GET("/settlements", potHandler.GetSettlements)
		protected.GET("/faults", potHandler.GetFaults)

		// Keeper routes
		keeper := protected.Group("/keeper")
		{
			keeper.GET("/status", keeperHandler.GetStatus)
			keeper.POST("/start", admin, keeperHandler.Start)
			keeper.POST("/stop", admin, keeperHandler.Stop)
			keeper.POST("/refresh-directory", admin, keeperHandler.RefreshDirectory)
		}
	}

	return router
}
