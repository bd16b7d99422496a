package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"whosprinting-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(d Deps) *gin.Engine {
	r := gin.Default()
	handler := NewHandler(d)
	srv := d.Config.Server

	rateLimiter := mw.RateLimiter(rate.Limit(srv.RateLimitPerSec), srv.RateLimitBurst, srv.RequestIPHeader)
	// Only the operator list is cached; occupancy must always be fresh.
	caching := mw.Cache(handler.cache, srv.CacheTTL(), mw.QueryCommandKey("list"))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		plugin := api.Group("/plugin/" + d.Config.Plugin.ID)
		plugin.GET("", caching, handler.GetCommand)
		plugin.POST("", handler.PostCommand)
		plugin.GET("/events", handler.StreamEvents)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
