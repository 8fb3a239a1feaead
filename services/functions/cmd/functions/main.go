package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"supashowcase/internal/ratelimit"
	"supashowcase/internal/usertoken"
	"supashowcase/internal/util"
	"supashowcase/pkg/storage"
	"supashowcase/pkg/supabase"
	"supashowcase/services/functions/internal/config"
	"supashowcase/services/functions/internal/server"
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

	srvCfg := server.Config{TrustedProxies: trusted}
	if cfg.PlatformConfigured() {
		platform, err := supabase.New(supabase.Config{URL: cfg.SupabaseURL, AnonKey: cfg.SupabaseAnonKey})
		if err != nil {
			log.Fatalf("failed to init platform client: %v", err)
		}
		srvCfg.Platform = platform
	} else {
		logger.Warn("platform not configured; signed-url will answer 500")
	}

	if cfg.MinioEndpoint != "" {
		signer, err := storage.NewMinioSigner(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
			Region:    cfg.MinioRegion,
		})
		if err != nil {
			log.Fatalf("failed to init minio signer: %v", err)
		}
		srvCfg.Signer = signer
	}

	if cfg.JWTSecret != "" {
		verifier, err := usertoken.NewVerifier(usertoken.Config{Secret: cfg.JWTSecret})
		if err != nil {
			log.Fatalf("failed to init token verifier: %v", err)
		}
		srvCfg.Verifier = verifier
	}

	if cfg.RedisAddr != "" {
		window := time.Minute
		limiter, err := ratelimit.Dial(cfg.RedisAddr, cfg.RedisPassword, "supashowcase:functions",
			ratelimit.Rule{Name: "hello-world", Limit: cfg.RateLimitPerMin, Window: window},
			ratelimit.Rule{Name: "signed-url", Limit: cfg.RateLimitPerMin, Window: window},
		)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
		defer limiter.Close()
		srvCfg.Limiter = limiter
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.New(srvCfg).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("functions server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
