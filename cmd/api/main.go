package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"brokergate.org/internal/access"
	"brokergate.org/internal/config"
	"brokergate.org/internal/httpapi"
	"brokergate.org/internal/obs"
	"brokergate.org/internal/store/pg"
	"brokergate.org/internal/trading"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	obs.InitLog(obs.LogOptions{Level: cfg.LogLevel, Pretty: cfg.Pretty()})
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Log()

	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer store.Close()

	registry := access.NewRegistry(store.Rules())
	if err := registry.EnsureSeed(ctx); err != nil {
		log.Fatal().Err(err).Msg("seed permission catalog")
	}

	sessions := access.NewSessionStore(store.Users(),
		access.WithSessionTTL(cfg.SessionTTL),
		access.WithDeviceRecorder(store.Devices()),
	)
	otp := access.NewOTPStore(access.WithOTPTTL(cfg.OTPTTL))
	scope := access.NewScopeResolver(store.Assignments(), store.Users())
	evaluator := access.NewEvaluator(registry, store.DenyList(), scope, store.Users())

	api := httpapi.New(httpapi.ReadyProbe{DB: store.DB()}, version, httpapi.Deps{
		Sessions:      sessions,
		OTP:           otp,
		Registry:      registry,
		Evaluator:     evaluator,
		Scope:         scope,
		Users:         store.Users(),
		DenyList:      store.DenyList(),
		Assignments:   store.Assignments(),
		Accounts:      store.Accounts(),
		Trading: trading.NewClient(cfg.Trading.BaseURL, cfg.Trading.Username, cfg.Trading.Password,
			trading.WithHTTPClient(&http.Client{Timeout: cfg.Trading.Timeout})),
		RatePerSecond: cfg.RateLimit.PerSecond,
		RateBurst:     cfg.RateLimit.Burst,
		OTPPerMinute:  cfg.RateLimit.OTPPerMinute,
	})
	defer api.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// expired sessions and tombstones are collected in the background
	gcTicker := time.NewTicker(10 * time.Minute)
	defer gcTicker.Stop()
	go func() {
		for range gcTicker.C {
			if n := sessions.PurgeExpired(); n > 0 {
				log.Debug().Int("purged", n).Msg("session gc")
			}
		}
	}()

	log.Info().Str("version", version).Str("addr", srv.Addr).Msg("starting brokergate-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("stopped")
}
