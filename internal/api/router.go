package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"zenflow-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(d Deps) *gin.Engine {
	return newRouter(NewHandler(d), d.Server.RateLimitPerSec, d.Server.RateLimitBurst)
}

func newRouter(handler *Handler, perSec float64, burst int) *gin.Engine {
	r := gin.Default()

	if perSec <= 0 {
		perSec = 10
	}
	if burst <= 0 {
		burst = 5
	}
	rateLimiter := mw.RateLimiter(rate.Limit(perSec), burst)
	caching := handler.cache.Middleware()

	r.GET("/logs", rateLimiter, caching, handler.GetLogs)
	r.GET("/ws", handler.ServeWS)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/status", handler.GetStatus)

		api.POST("/permanent/logon", handler.LogOnPermanent)
		api.POST("/permanent/logoff", handler.LogOffPermanent)
		api.GET("/permanent/sessions", handler.ListPermanentSessions)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
