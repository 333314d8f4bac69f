package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// currentUser reads the authenticated user id set by the upstream proxy.
// Session handling itself lives outside this service.
func currentUser(c *gin.Context) (uint, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user identity"})
		return 0, false
	}
	return uint(id), true
}
