package controllers

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTimePtr(t *testing.T) {
	assert.Nil(t, formatTimePtr(nil))

	now := time.Date(2024, 5, 1, 12, 34, 56, 0, time.Local)
	formatted := formatTimePtr(&now)
	assert.IsType(t, "", formatted)

	expected := now.UTC().Format(time.RFC3339)
	assert.Equal(t, expected, formatted)
}

func TestClientIP(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(clientIP(c))
	})

	tests := []struct {
		headers map[string]string
		want    string
	}{
		{headers: map[string]string{"CF-Connecting-IP": "203.0.113.7", "X-Forwarded-For": "198.51.100.1"}, want: "203.0.113.7"},
		{headers: map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}, want: "198.51.100.1"},
		{headers: map[string]string{"X-Real-IP": "2001:db8::1"}, want: "2001:db8::1"},
		{headers: nil, want: "0.0.0.0"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		for k, v := range tt.headers {
			req.Header.Set(k, v)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(body))
	}
}
