package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// limitQuery parses the ?limit= query parameter with a default and cap.
func limitQuery(c *gin.Context, def, max int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// offsetQuery parses the ?offset= query parameter.
func offsetQuery(c *gin.Context) int {
	raw := c.Query("offset")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
