package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goban/internal/api"
	"goban/internal/auth"
	"goban/internal/broadcast"
	"goban/internal/config"
	"goban/internal/game"
	"goban/internal/htmx"
	"goban/internal/matchmaking"
	"goban/internal/metrics"
	"goban/internal/models"
	"goban/internal/rating"
	"goban/internal/storage"
	"goban/internal/ws"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 5 * time.Second
	connectAttempts = 10
	issuedTokenTTL  = 30 * 24 * time.Hour
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:], nil)
	if err != nil {
		return err
	}
	if cfg.IssueToken != "" {
		token, err := auth.NewJWT(cfg.JWTSecret).Issue(cfg.IssueToken, cfg.IssueToken, issuedTokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize layers
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	clk := clock.New()
	m := metrics.New()
	hub := broadcast.NewHub(log, m)

	ratings := rating.NewService(store, log, clk)
	if err := ratings.Load(ctx); err != nil {
		return err
	}
	defer ratings.Close()

	games := game.NewService(game.Options{
		Store:       store,
		Publisher:   hub,
		Logger:      log,
		Metrics:     m,
		Clock:       clk,
		AIMoveDelay: cfg.AIMoveDelay,
		OnFinished: func(ctx context.Context, state *models.GameState) error {
			_, err := ratings.RecordResult(ctx, state)
			return err
		},
	})
	defer games.Close()
	restored, err := games.Restore(ctx)
	if err != nil {
		return err
	}
	log.Info("games restored", zap.Int("count", restored))

	queue := matchmaking.New(matchmaking.Options{
		Store:         store,
		Creator:       games,
		Notifier:      hub,
		Logger:        log,
		Metrics:       m,
		Clock:         clk,
		SweepInterval: cfg.SweepInterval,
	})
	if err := queue.Start(ctx); err != nil {
		return err
	}
	defer queue.Close()

	var verifier auth.Verifier = auth.Static{}
	if cfg.JWTSecret != "" {
		verifier = auth.NewJWT(cfg.JWTSecret)
	} else {
		log.Warn("JWT_SECRET is not set, trusting the X-Participant header")
	}

	// Setup routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(api.CORSMiddleware(cfg.OriginAllowlist))
	api.NewHandler(api.Deps{Games: games, Queue: queue, Ratings: ratings, Verifier: verifier, Metrics: m, Logger: log}).RegisterRoutes(r)
	ws.NewHandler(games, queue, hub, verifier, cfg.OriginAllowlist, log).RegisterRoutes(r)
	htmx.NewHandler(games, hub, log).RegisterRoutes(r)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/htmx/games", http.StatusFound)
	})

	// Streams watch the base context so Shutdown can end them.
	base, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	server.RegisterOnShutdown(cancelBase)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", zap.String("addr", cfg.Addr), zap.String("store", cfg.Store))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("graceful shutdown failed", zap.Error(err))
			return server.Close()
		}
		return nil
	})
	return g.Wait()
}

// openStore connects the configured backend.
func openStore(ctx context.Context, cfg config.Config) (storage.Store, func(), error) {
	switch cfg.Store {
	case config.StoreRedis:
		s, err := storage.DialRedis(ctx, cfg.RedisURL, cfg.RedisNamespace)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case config.StorePostgres:
		s, err := storage.OpenPostgres(ctx, cfg.DatabaseURL, connectAttempts)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return storage.NewMemory(), func() {}, nil
	}
}
