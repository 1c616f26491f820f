// ABOUTME: Entry point for the inboxd conversation routing server
// ABOUTME: Wires storage, routing, delivery, and the HTTP API together

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"

	"github.com/relaydesk/inbox-core/internal/api"
	"github.com/relaydesk/inbox-core/internal/auth"
	"github.com/relaydesk/inbox-core/internal/blob"
	"github.com/relaydesk/inbox-core/internal/config"
	"github.com/relaydesk/inbox-core/internal/delivery"
	"github.com/relaydesk/inbox-core/internal/gateway"
	"github.com/relaydesk/inbox-core/internal/notify"
	"github.com/relaydesk/inbox-core/internal/registry"
	"github.com/relaydesk/inbox-core/internal/routing"
	"github.com/relaydesk/inbox-core/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _       _                   _
(_)_ __ | |__   _____  ____| |
| | '_ \| '_ \ / _ \ \/ / _' |
| | | | | |_) | (_) >  < (_| |
|_|_| |_|_.__/ \___/_/\_\__,_|
`

const shutdownTimeout = 15 * time.Second

// getConfigPath returns the path to the inboxd config file.
// Priority: INBOX_CONFIG env var > XDG_CONFIG_HOME/inboxd/config.yaml > ~/.config/inboxd/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("INBOX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "inboxd", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: inboxd <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the inbox server")
		fmt.Println("  init     Write a starter config file")
		fmt.Println("  health   Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	if cfg.Blob.Endpoint != "" {
		green.Print("    ▶ ")
		fmt.Printf("Blob:     %s/%s\n", cfg.Blob.Endpoint, cfg.Blob.Bucket)
	}
	if cfg.Redis.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Redis:    %s\n", cfg.Redis.Addr)
	}
	fmt.Println()

	logger.Info("starting inboxd",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Path,
	)

	// Storage
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	// Local event fanout, optionally mirrored through redis
	broadcaster := notify.NewBroadcaster(logger)
	defer broadcaster.Close()

	notifier := notify.Publisher(broadcaster)
	if cfg.Redis.Enabled {
		channel := cfg.Redis.Channel
		if channel == "" {
			channel = "inbox-events"
		}
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		defer redisClient.Close()

		remote := notify.NewRedisPublisher(redisClient, channel, logger)
		go remote.Listen(ctx, broadcaster)
		notifier = notify.Fanout{broadcaster, remote}
	}

	// Media storage is optional; without it media sends are rejected
	var uploader blob.Uploader
	if cfg.Blob.Endpoint != "" {
		uploader, err = blob.NewMinioUploader(ctx, blob.Options{
			Endpoint:  cfg.Blob.Endpoint,
			AccessKey: cfg.Blob.AccessKey,
			SecretKey: cfg.Blob.SecretKey,
			Bucket:    cfg.Blob.Bucket,
			PublicURL: cfg.Blob.PublicURL,
			UseSSL:    cfg.Blob.UseSSL,
		}, logger)
		if err != nil {
			return fmt.Errorf("connecting blob storage: %w", err)
		}
	}

	// Outbound provider gateway
	gw := gateway.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.Token, cfg.Gateway.Timeout, logger)

	// Domain services
	engine := routing.New(st, notifier, routing.Config{
		EnforceCapacity: cfg.Routing.EnforceCapacity,
		Distribution:    cfg.Routing.Distribution,
	}, logger)
	pipeline := delivery.NewPipeline(st, gw, uploader, notifier, delivery.Options{
		DispatchTimeout: cfg.Delivery.DispatchTimeout,
		MaxMediaBytes:   cfg.Delivery.MaxMediaBytes,
	}, logger)
	reg := registry.New(st, notifier, logger)
	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	// HTTP API
	server := api.New(st, engine, pipeline, reg, broadcaster, notifier, verifier, logger)
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("goodbye")
	return nil
}

const starterConfig = `server:
  http_addr: "0.0.0.0:8080"

database:
  path: "inbox.db"

auth:
  jwt_secret: "${INBOX_JWT_SECRET}"

gateway:
  base_url: "https://gateway.example.com"
  token: "${INBOX_GATEWAY_TOKEN}"
  timeout: "30s"

routing:
  enforce_capacity: true
  distribution: false

logging:
  level: "info"
  format: "text"
`

func runInit() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(starterConfig), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Wrote starter config to %s\n", configPath)
	fmt.Println("Set INBOX_JWT_SECRET and INBOX_GATEWAY_TOKEN, then run: inboxd serve")
	return nil
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
