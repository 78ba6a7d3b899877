package main

import (
	"log"
	"net/http"

	"github.com/tripnest/edge-gateway/internal/auth"
	"github.com/tripnest/edge-gateway/internal/cache"
	"github.com/tripnest/edge-gateway/internal/config"
	"github.com/tripnest/edge-gateway/internal/db"
	"github.com/tripnest/edge-gateway/internal/gateway"
	"github.com/tripnest/edge-gateway/internal/kv"
	"github.com/tripnest/edge-gateway/internal/payments"
	"github.com/tripnest/edge-gateway/internal/ratelimit"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// Durable (cold) tier
	database, err := db.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer database.Close()

	// Hot tier
	hot, err := kv.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to connect to redis:", err)
	}
	defer hot.Close()

	limiter := ratelimit.NewLimiter(hot, database)
	global := ratelimit.NewGlobalLimiter(hot)
	validator := auth.NewValidator(cfg.JWTSecret, hot)
	responseCache := cache.New(hot, database)

	origin := payments.NewHTTPOrigin(cfg.OriginURL)
	processor := payments.NewProcessor(database, hot, origin, cfg.VelocityFailOpen)
	webhooks := payments.NewWebhookHandler(cfg.WebhookSecret, database)

	handler := gateway.New(cfg, limiter, global, validator, responseCache, processor, webhooks, database)

	log.Printf("Edge gateway starting on port %s (region %s)", cfg.ServerPort, cfg.EdgeRegion)
	log.Printf("Forwarding unmatched paths to origin at %s", cfg.OriginURL)
	if err := http.ListenAndServe(":"+cfg.ServerPort, handler.Router()); err != nil {
		log.Fatal("Server failed:", err)
	}
}
