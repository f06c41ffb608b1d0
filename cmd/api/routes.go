package main

import (
	"context"
	"net/http"

	"guest-messaging/internal/httpapi"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	authMW   gin.HandlerFunc
	verifyMW gin.HandlerFunc
	admin    httpapi.Handlers
	webhooks httpapi.TwilioWebhooks
	ready    func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if err := d.ready(c.Request.Context()); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks: public, signature-checked.
	d.webhooks.Register(r, d.verifyMW)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(d.authMW)
	d.admin.Register(v1)
}
