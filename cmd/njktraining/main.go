package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/claude/njktraining/internal/config"
	trainingmcp "github.com/claude/njktraining/internal/mcp"
	"github.com/claude/njktraining/internal/metrics"
	"github.com/claude/njktraining/internal/oauth"
	"github.com/claude/njktraining/internal/server"
	"github.com/claude/njktraining/internal/storage"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"
	"tailscale.com/tsnet"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// validatorCacheBytes sizes the token validation cache.
const validatorCacheBytes = 8 * 1024 * 1024

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	migrateOnly := flag.Bool("migrate-only", false, "run migrations and exit")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log)
	log.Info("njktraining starting", "version", Version)

	// Run migrations
	dsn := cfg.Database.DSN()
	if err := storage.RunMigrations(dsn, "migrations"); err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}
	log.Info("migrations applied")

	if *migrateOnly {
		log.Info("migrate-only: exiting")
		return
	}

	// Connect database
	ctx := context.Background()
	db, err := storage.New(ctx, dsn)
	if err != nil {
		log.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("database connected")

	// OAuth proxy
	authClient := oauth.NewClient(oauth.Options{
		BaseURL:        cfg.OAuth.BaseURL,
		AppName:        cfg.OAuth.AppName,
		AppDisplayName: cfg.OAuth.AppDisplayName,
		AppDescription: cfg.OAuth.AppDescription,
		Timeout:        cfg.OAuth.Timeout(),
	})
	if cfg.OAuth.RegisterApp {
		if err := authClient.RegisterApp(ctx); err != nil {
			log.Warn("oauth app registration failed", "error", err)
		} else {
			log.Info("oauth app registered", "app", cfg.OAuth.AppName)
		}
	}
	validator := oauth.NewCachedValidator(authClient, validatorCacheBytes, cfg.OAuth.CacheTTL(), log)

	opts := server.Options{
		Store:              db,
		Auth:               authClient,
		Validator:          validator,
		AuthPerMinute:      cfg.Redis.AuthPerMinute,
		TrustProxyHeaders:  cfg.Server.TrustProxyHeaders,
		DefaultMaxStudents: cfg.Mentor.DefaultMaxStudents,
		Version:            Version,
		Log:                log,
	}

	// Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts.Metrics = metrics.NewManager("njktraining", "server", reg)
		opts.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		log.Info("metrics enabled")
	}

	// Auth rate limiting
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis ping failed, rate limiter will fail open", "addr", cfg.Redis.Addr, "error", err)
		}
		opts.RateLimiter = redis_rate.NewLimiter(rdb)
		log.Info("auth rate limiting enabled", "per_minute", cfg.Redis.AuthPerMinute)
	}

	// MCP tools, scoped to the bearer-authenticated user
	mcpSrv := trainingmcp.New(db, Version, log)
	opts.MCP = mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if u, ok := server.UserFromContext(r.Context()); ok {
				return trainingmcp.WithUserID(ctx, u.ID)
			}
			return ctx
		}),
	)

	srv := server.New(opts)

	if cfg.Server.StaticDir != "" {
		srv.SetFrontend(os.DirFS(cfg.Server.StaticDir))
		log.Info("serving frontend", "dir", cfg.Server.StaticDir)
	}

	// Start server: tsnet or plain HTTP
	var listener net.Listener

	if cfg.Tailscale.Enabled {
		tsServer := &tsnet.Server{
			Hostname: cfg.Tailscale.Hostname,
			Dir:      cfg.Tailscale.StateDir,
		}
		if err := tsServer.Start(); err != nil {
			log.Error("tsnet start failed", "error", err)
			os.Exit(1)
		}
		defer tsServer.Close()

		listener, err = tsServer.Listen("tcp", ":80")
		if err != nil {
			log.Error("tsnet listen failed", "error", err)
			os.Exit(1)
		}
		log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			log.Error("listen failed", "addr", addr, "error", err)
			os.Exit(1)
		}
		log.Info("server starting", "addr", addr)
	}

	httpSrv := &http.Server{
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutting down", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("server stopped")
}

// newLogger writes text logs to stdout, and also to a rotated file when one is configured.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		})
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}
