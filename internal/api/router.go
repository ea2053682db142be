package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"laundry-share-backend/config"
	"laundry-share-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", mw.UserHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	cacheStore := cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	caching := mw.Cache(cacheStore, cfg.CacheTTL)

	public := r.Group("/api")
	public.Use(mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst))
	public.GET("/vapid_public_key", h.GetVAPIDPublicKey)

	api := r.Group("/api")
	api.Use(mw.Identity(h.store), mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst))
	{
		api.GET("/cycle/status", h.GetStatus)
		api.POST("/cycle/start", h.StartCycle)
		api.POST("/cycle/stop", h.StopCycle)
		api.POST("/cycle/door", h.ReleaseDoor)

		api.GET("/cycles", h.ListCycles)
		api.POST("/cycles/:id/split", h.SplitCycle)
		api.POST("/cycles/:id/split/accept", h.AcceptSplit)
		api.POST("/cycles/:id/split/reject", h.RejectSplit)
		api.POST("/cycles/:id/paid", h.MarkPaid)
		api.POST("/cycles/:id/splits/:user_id/paid", h.MarkSplitPaid)

		api.GET("/debt", h.GetDebt)
		api.GET("/statistics", h.GetStatistics)
		api.GET("/admin/statistics", h.GetAdminStatistics)
		api.PUT("/rate", h.PutRate)
		api.DELETE("/rate/recalculation", h.CancelRecalculation)
		api.PUT("/preferences", h.PutPreferences)

		api.GET("/appliance", caching, h.GetAppliance)

		api.GET("/reservations", h.ListReservations)
		api.POST("/reservations", h.CreateReservation)
		api.PUT("/reservations/:id", h.UpdateReservation)
		api.DELETE("/reservations/:id", h.DeleteReservation)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)

		api.GET("/ws", h.StreamStatus)
	}

	return r
}
