package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ivlasenkov/requiroute/internal/api"
	"github.com/ivlasenkov/requiroute/internal/config"
	"github.com/ivlasenkov/requiroute/internal/reconciler"
	"github.com/ivlasenkov/requiroute/internal/service"
	"github.com/ivlasenkov/requiroute/internal/stats"
	"github.com/ivlasenkov/requiroute/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	st, err := store.NewStore(cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer st.Close()

	logger := log.New(os.Stdout, "", log.LstdFlags)

	// Allocation stats go to Redis when configured, otherwise stay in
	// process memory.
	var recorder stats.Recorder = stats.NewMemoryRecorder()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		recorder = stats.NewRedisRecorder(rdb)
	}

	allocator := service.NewAllocationService(st.Db, st)
	deposits := service.NewDepositService(st.Db, cfg.UsdtRate)
	requisites := service.NewRequisiteService(st.Db, cfg.UsdtRate)
	limits := service.NewLimitService(st, cfg.UsdtRate)

	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	srv := api.NewServer(st, allocator, deposits, requisites, limits, recorder, limiter, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter.StartJanitor(ctx)
	go reconciler.New(st.Db, cfg.ReconcileInterval, logger).Run(ctx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Printf("server starting on :%s (%s)", cfg.Port, cfg.Env)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(ctxShutdown)
}
