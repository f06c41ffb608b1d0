package httpapi

import (
	"guest-messaging/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the admin API on an authenticated group.
func (h Handlers) Register(v1 *gin.RouterGroup) {
	readers := rbac.Chain(rbac.RoleOwner, rbac.RolePlanner, rbac.RoleViewer, rbac.RoleSupport)
	writers := rbac.Chain(rbac.RoleOwner, rbac.RolePlanner)

	v1.GET("/me", h.Me)

	events := v1.Group("/events/:event_id")
	events.GET("/guests/count", append(readers, h.GuestCount)...)
	events.POST("/guests/import", append(writers, h.ImportGuests)...)
	events.DELETE("/guests/:guest_id", append(writers, h.DeleteGuest)...)

	v1.GET("/sessions/:session_id/logs", append(readers, h.SessionLogs)...)

	reports := v1.Group("/reports")
	reports.Use(rbac.Chain(rbac.RoleOwner, rbac.RoleViewer)...)
	reports.GET("/deliveries", h.DeliveryReport)
	reports.GET("/usage", h.UsageReport)
}

// Register mounts the provider callbacks behind signature verification.
func (h TwilioWebhooks) Register(r gin.IRouter, verify gin.HandlerFunc) {
	g := r.Group("/webhooks/twilio", verify)
	g.POST("/whatsapp", h.HandleInbound)
	g.POST("/status", h.HandleStatus)
}
