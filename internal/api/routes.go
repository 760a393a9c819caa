package api

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/playquickdraw/backend/internal/api/handlers"
	"github.com/playquickdraw/backend/internal/config"
	"github.com/playquickdraw/backend/internal/duel"
	"github.com/playquickdraw/backend/internal/ledger"
	"github.com/playquickdraw/backend/internal/middleware"
	"github.com/playquickdraw/backend/internal/ws"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, coord *duel.Coordinator, settler *duel.Settler, db *sqlx.DB, lgr *ledger.Ledger, cfg *config.Config) {
	router.Use(middleware.CORSMiddleware(cfg))

	// No-cache headers in development so polling clients never see stale
	// phases out of a proxy cache
	if cfg.Environment != "production" {
		router.Use(func(c *gin.Context) {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
			c.Next()
		})
		log.Println("[DEV MODE] No-cache headers enabled for all routes")
	}

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck)

		// Duel endpoints
		d := v1.Group("/duel")
		{
			d.POST("/create", handlers.CreateMatch(coord))
			d.POST("/join", handlers.JoinMatch(coord))
			d.POST("/ready", handlers.SetReady(coord))
			d.POST("/click", handlers.Click(coord))
			d.POST("/settle", handlers.SettleMatch(settler))
			d.GET("/open", handlers.ListOpen(coord))
			d.GET("/history/:account", handlers.GetHistory(coord))
			d.GET("/:id", handlers.GetMatch(coord))
			d.GET("/:id/ws", ws.HandleMatchFeed())
		}

		// Admin endpoints (operator console for the money path)
		if db != nil {
			adminGroup := v1.Group("/admin")
			{
				adminGroup.POST("/login", handlers.AdminLogin(db, cfg))

				protected := adminGroup.Group("")
				protected.Use(handlers.AdminAuth(cfg))
				{
					protected.GET("/settlements", handlers.AdminListSettlements(db, lgr))
					protected.GET("/settlements/:id", handlers.AdminGetSettlement(db, lgr))
					protected.GET("/audit", handlers.AdminListAudit(db))
				}
			}
		}
	}
}
