package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"supashowcase/internal/ratelimit"
	"supashowcase/internal/usertoken"
	"supashowcase/internal/util"
	"supashowcase/pkg/supabase"
	"supashowcase/services/demo/internal/app"
	"supashowcase/services/demo/internal/config"
	"supashowcase/services/demo/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	platform, err := supabase.New(supabase.Config{URL: cfg.SupabaseURL, AnonKey: cfg.SupabaseAnonKey})
	if err != nil {
		log.Fatalf("failed to init platform client: %v", err)
	}
	application := app.New(app.Config{
		Platform:     platform,
		AvatarBucket: cfg.AvatarBucket,
		Logger:       logger,
	})
	defer application.Close()

	srvCfg := server.Config{App: application, TrustedProxies: trusted}
	if cfg.JWTSecret != "" {
		verifier, err := usertoken.NewVerifier(usertoken.Config{Secret: cfg.JWTSecret})
		if err != nil {
			log.Fatalf("failed to init token verifier: %v", err)
		}
		srvCfg.Verifier = verifier
	}
	if cfg.RedisAddr != "" {
		window := time.Minute
		limiter, err := ratelimit.Dial(cfg.RedisAddr, cfg.RedisPassword, "supashowcase:demo",
			ratelimit.Rule{Name: "signin", Limit: cfg.AuthRateLimitPerMin, Window: window},
			ratelimit.Rule{Name: "signup", Limit: cfg.AuthRateLimitPerMin, Window: window},
		)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
		defer limiter.Close()
		srvCfg.Limiter = limiter
	} else {
		logger.Warn("redis not configured; sign-in is not rate limited")
	}

	srv, err := server.New(srvCfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("demo server listening", "addr", addr, "platform", cfg.SupabaseURL)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
