package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// DefaultCORSConfig returns the CORS configuration used by the server.
func DefaultCORSConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", RequestIDHeader)
	cfg.MaxAge = 12 * time.Hour
	return cfg
}

// CORS returns a CORS middleware with the given configuration.
func CORS(cfg cors.Config) gin.HandlerFunc {
	return cors.New(cfg)
}
