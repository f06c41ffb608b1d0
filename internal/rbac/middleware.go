package rbac

import (
	"net/http"

	"guest-messaging/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireOrganization enforces the tenancy invariant: organization_id must be
// in context before any handler runs.
func RequireOrganization() gin.HandlerFunc {
	return func(c *gin.Context) {
		if oid, err := auth.OrganizationID(c.Request.Context()); err != nil || oid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// super_admin bypasses the check; hidden roles must be listed explicitly.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if IsSuperAdmin(role) {
			c.Next()
			return
		}
		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// Chain bundles organization scoping with a role check.
func Chain(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{RequireOrganization(), RequireAnyRole(roles...)}
}
