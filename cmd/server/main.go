package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/finsim/paper-engine/internal/config"
	"github.com/finsim/paper-engine/internal/metrics"
	"github.com/finsim/paper-engine/internal/quotes"
	"github.com/finsim/paper-engine/internal/store"
	"github.com/finsim/paper-engine/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := store.NewPool(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	// --- Kafka trade event producer (optional) ---
	var publisher trade.TradePublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := quotes.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TradesTopic)
		cleanup = append(cleanup, func() { producer.Close() })
		publisher = producer
		slog.Info("Kafka trade events enabled", "topic", cfg.Kafka.TradesTopic)
	}

	// --- Trade service ---
	tradeSvc := trade.NewService(st, cfg.Trading.InitialCash, wsHub, publisher)

	// --- Kafka quote feed (optional) ---
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	if len(cfg.Kafka.Brokers) > 0 {
		consumer := quotes.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.QuotesTopic, cfg.Kafka.GroupID, tradeSvc)
		go func() {
			if err := consumer.Start(consumerCtx); err != nil {
				slog.Error("quote consumer stopped", "err", err)
			}
		}()
		slog.Info("Kafka quote feed enabled", "topic", cfg.Kafka.QuotesTopic)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"paper-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time trade and valuation events.
		r.Get("/ws", wsHub.HandleWS)

		// Trade execution.
		r.Post("/trade", tradeSvc.ExecuteTrade)

		// Portfolio queries and account management.
		r.Route("/portfolio/{accountID}", func(r chi.Router) {
			r.Get("/", tradeSvc.GetPortfolio)
			r.Get("/trades", tradeSvc.GetTradeHistory)
			r.Get("/history", tradeSvc.GetValueHistory)
			r.Post("/prices", tradeSvc.UpdatePrices)
			r.Post("/reset", tradeSvc.ResetAccount)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("paper-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopConsumer()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down paper-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("paper-engine stopped")
}
