// WhatsTasker server.
// Stdio MCP for the conversational agent, HTTP for additional clients, and
// the background trigger engines.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/erezf1/WhatsTasker-sub000/internal/bridge"
	"github.com/erezf1/WhatsTasker-sub000/internal/config"
	"github.com/erezf1/WhatsTasker-sub000/internal/gateway"
	"github.com/erezf1/WhatsTasker-sub000/internal/lifecycle"
	"github.com/erezf1/WhatsTasker-sub000/internal/scheduler"
	"github.com/erezf1/WhatsTasker-sub000/internal/state"
	"github.com/erezf1/WhatsTasker-sub000/internal/store"
	tasksync "github.com/erezf1/WhatsTasker-sub000/internal/sync"
	"github.com/erezf1/WhatsTasker-sub000/internal/tools/tasker"
	"github.com/erezf1/WhatsTasker-sub000/internal/trigger"
	"github.com/erezf1/WhatsTasker-sub000/internal/users"
)

// Version is set by -ldflags at build time.
var Version = "dev"

func main() {
	configPath := flag.String("config", "whatstasker.yaml", "path to the YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("whatstasker " + Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	logger := setupLogger(cfg.LogFile)
	logger.Println("Starting WhatsTasker server...")
	logger.Printf("Data dir: %s", cfg.DataDir)

	st, err := store.Open(cfg.DBPath(), logger)
	if err != nil {
		logger.Fatalf("Store: %v", err)
	}
	defer st.Close()

	registry, err := users.NewRegistry(cfg.UsersPath(), logger)
	if err != nil {
		logger.Fatalf("Users: %v", err)
	}

	cache := state.NewCache(logger)
	for _, userID := range registry.UserIDs() {
		cache.Register(userID)
	}
	logger.Printf("Registered %d user(s) from %s", len(registry.UserIDs()), cfg.UsersPath())

	calendars := newCalendarPool(cfg, registry, logger)
	reconciler := tasksync.NewReconciler(st, logger)
	manager := lifecycle.NewManager(st, cache, logger)

	var sender bridge.Sender
	if cfg.BridgeURL != "" {
		sender = bridge.NewLogged(bridge.NewHTTPSender(cfg.BridgeURL, cfg.BridgeToken, logger), st, logger)
		logger.Printf("Bridge: %s", cfg.BridgeURL)
	} else {
		sender = bridge.Nop{}
		logger.Println("Bridge: not configured, outbound messages disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signal.Ignore(syscall.SIGHUP)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Warm each user's context so the trigger engines have data before the
	// first tool call arrives.
	go warmContexts(ctx, cache, reconciler, calendars.resolve, logger)

	watcher := users.NewWatcher(registry, func(userID string) {
		if !cache.Registered(userID) {
			cache.Register(userID)
			logger.Printf("Users: new user %s registered from disk", userID)
		}
	}, logger)
	go watcher.Start(ctx)

	notifications := trigger.NewNotificationEngine(cache, registry, st, reconciler, calendars.resolve, sender, logger)
	routines := trigger.NewRoutineEngine(registry, reconciler, calendars.resolve, sender, logger)
	cleanup := trigger.NewCleanupEngine(cache, st, logger)

	sched := scheduler.New([]scheduler.Job{
		{
			Name:     "notifications",
			Interval: time.Duration(cfg.NotificationIntervalMinutes) * time.Minute,
			Run:      notifications.Run,
		},
		{
			Name:     "routines",
			Interval: time.Duration(cfg.RoutineIntervalMinutes) * time.Minute,
			Run:      routines.Run,
		},
		{
			Name:        "cleanup",
			DailyHour:   cfg.CleanupHourUTC,
			DailyMinute: cfg.CleanupMinuteUTC,
			Run:         cleanup.Run,
		},
	}, logger, scheduler.WithWorkers(cfg.SchedulerWorkers))
	go sched.Start(ctx)

	mcpServer := server.NewMCPServer("whatstasker", Version)
	tasker.Register(mcpServer, tasker.Deps{
		Store:     st,
		Cache:     cache,
		Registry:  registry,
		Lifecycle: manager,
		Snapshots: reconciler,
		Calendars: calendars.resolve,
		Logger:    logger,
	})

	var httpShutdown func()
	if cfg.HTTPPort > 0 {
		httpShutdown = startHTTP(mcpServer, cfg.HTTPPort, logger)
	}

	logger.Println("Stdio ready (agent connection)")
	stdioSrv := server.NewStdioServer(mcpServer)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Printf("Stdio server stopped: %v", err)
	}

	cancel()
	if httpShutdown != nil {
		httpShutdown()
	}
	sched.Stop()
	watcher.Stop()
	logger.Println("Shutdown complete")
}

// warmContexts loads each registered user's two-week snapshot into the
// cache at startup.
func warmContexts(ctx context.Context, cache *state.Cache, rec *tasksync.Reconciler, calendars tasker.CalendarResolver, logger *log.Logger) {
	now := time.Now().UTC()
	start := now.Format(time.RFC3339)
	end := now.AddDate(0, 0, 14).Format(time.RFC3339)
	for _, userID := range cache.UserIDs() {
		if ctx.Err() != nil {
			return
		}
		items := rec.Snapshot(ctx, userID, calendars(ctx, userID), start, end)
		cache.ReplaceContext(userID, items)
	}
	logger.Printf("Context warm-up done for %d user(s)", len(cache.UserIDs()))
}

// calendarPool builds and memoizes one calendar client per user.
type calendarPool struct {
	mu        sync.Mutex
	cfg       *config.Config
	registry  *users.Registry
	logger    *log.Logger
	tokensDir string
	clients   map[string]gateway.Calendar
}

func newCalendarPool(cfg *config.Config, registry *users.Registry, logger *log.Logger) *calendarPool {
	return &calendarPool{
		cfg:       cfg,
		registry:  registry,
		logger:    logger,
		tokensDir: filepath.Join(cfg.UsersPath(), "tokens"),
		clients:   make(map[string]gateway.Calendar),
	}
}

// resolve returns the user's retrying calendar client, nil when the user has
// no token, has mirroring disabled, or the server has no OAuth credentials.
func (p *calendarPool) resolve(ctx context.Context, userID string) gateway.Calendar {
	if p.cfg.GoogleClientID == "" || p.cfg.GoogleClientSecret == "" {
		return nil
	}
	if prefs, ok := p.registry.Get(userID); ok && !prefs.CalendarEnabled {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cal, ok := p.clients[userID]; ok {
		return cal
	}
	oauthConf := gateway.OAuthConfig(p.cfg.GoogleClientID, p.cfg.GoogleClientSecret)
	gc, err := gateway.NewGoogleCalendar(ctx, oauthConf, p.tokensDir, userID, p.logger)
	if err != nil {
		p.logger.Printf("Calendar: client for %s unavailable: %v", userID, err)
		return nil
	}
	if gc == nil {
		return nil
	}
	cal := gateway.NewRetrying(gc, gateway.DefaultRetryPolicy(), p.logger)
	p.clients[userID] = cal
	return cal
}

// startHTTP serves the MCP server over streamable HTTP plus a health probe.
func startHTTP(mcpServer *server.MCPServer, port int, logger *log.Logger) func() {
	streamSrv := server.NewStreamableHTTPServer(mcpServer)

	mux := http.NewServeMux()
	mux.Handle("/mcp", streamSrv)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":%q}`, Version)
	})

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		logger.Printf("Serving MCP on HTTP port %d", port)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Printf("HTTP server error: %v", err)
		}
	}()

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown error: %v", err)
		}
	}
}

// setupLogger writes to the log file when configured, and to stderr when it
// is an interactive terminal. Stdout is off-limits: stdio MCP owns it.
func setupLogger(logFilePath string) *log.Logger {
	var writers []io.Writer

	stderrIsTerminal := false
	if info, err := os.Stderr.Stat(); err == nil {
		stderrIsTerminal = (info.Mode() & os.ModeCharDevice) != 0
	}

	hasLogFile := false
	lower := strings.ToLower(logFilePath)
	if lower != "none" && lower != "off" && logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err == nil {
			f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				writers = append(writers, f)
				hasLogFile = true
			} else {
				fmt.Fprintf(os.Stderr, "[whatstasker] Warning: cannot open log file %s: %v\n", logFilePath, err)
			}
		}
	}
	if stderrIsTerminal || !hasLogFile {
		writers = append(writers, os.Stderr)
	}
	return log.New(io.MultiWriter(writers...), "[whatstasker] ", log.LstdFlags|log.Lshortfile)
}
