package controllers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// clientIP returns the original client address, preferring proxy headers set
// by Cloudflare or a load balancer over the socket address.
func clientIP(c *fiber.Ctx) string {
	if cfIP := strings.TrimSpace(c.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		// The first entry is the original client
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(c.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return strings.TrimPrefix(c.IP(), "::ffff:")
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
