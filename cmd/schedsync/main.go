package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"schedsync/internal/config"
	"schedsync/internal/ical"
	"schedsync/internal/provider"
	"schedsync/internal/provider/caldav"
	"schedsync/internal/provider/google"
	"schedsync/internal/service/conflicts"
	"schedsync/internal/store/postgres"
	syncer "schedsync/internal/sync"
	"schedsync/internal/timezone"
)

func main() {
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "schedsync"),
	)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "schedsync",
		Usage: "synchronize calendars across providers and flag conflicts",
		Commands: []*cli.Command{
			{
				Name:  "sync",
				Usage: "run sync passes for one calendar",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "provider", Required: true, Usage: "adapter name (caldav, google)"},
					&cli.StringFlag{Name: "calendar", Required: true, Usage: "calendar id or collection path"},
					&cli.StringFlag{Name: "user", Usage: "user id (defaults to SCHEDSYNC_USER_ID)"},
					&cli.BoolFlag{Name: "watch", Usage: "keep syncing on the configured interval"},
				},
				Action: runSync,
			},
			{
				Name:  "calendars",
				Usage: "list calendars visible to a provider",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "provider", Required: true, Usage: "adapter name (caldav, google)"},
				},
				Action: runCalendars,
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Error("command failed", slog.Any("err", err))
		os.Exit(1)
	}
}

type env struct {
	cfg      config.Config
	log      *slog.Logger
	registry *provider.Registry
	orch     *syncer.Orchestrator
	close    func()
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", "schedsync"),
	)
	slog.SetDefault(log)

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	registry := provider.NewRegistry()
	if cfg.CalDAV.Endpoint != "" {
		norm := ical.NewNormalizer(timezone.NewService())
		adapter, err := caldav.New(norm, caldav.Options{
			Endpoint: cfg.CalDAV.Endpoint,
			Username: cfg.CalDAV.Username,
			Password: cfg.CalDAV.Password,
			Logger:   log,
		})
		if err != nil {
			return nil, fmt.Errorf("configure caldav adapter: %w", err)
		}
		registry.Register(adapter)
	}
	if cfg.Google.ClientID != "" {
		token, err := loadGoogleToken(cfg.Google.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("load google token: %w", err)
		}
		adapter, err := google.New(ctx, google.Options{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			Token:        token,
			Logger:       log,
		})
		if err != nil {
			return nil, fmt.Errorf("configure google adapter: %w", err)
		}
		registry.Register(adapter)
	}
	if len(registry.Names()) == 0 {
		return nil, fmt.Errorf("no providers configured; set SCHEDSYNC_CALDAV_ENDPOINT or SCHEDSYNC_GOOGLE_CLIENT_ID")
	}

	orch := syncer.NewOrchestrator(
		registry,
		postgres.NewEventRepo(db),
		postgres.NewAppointmentRepo(db),
		postgres.NewSyncStateRepo(db),
		conflicts.NewService(),
		syncer.Options{Horizon: cfg.SyncHorizon, Logger: log},
	)

	return &env{
		cfg:      cfg,
		log:      log,
		registry: registry,
		orch:     orch,
		close: func() {
			if err := postgres.Close(db); err != nil {
				log.Warn("database close failed", slog.Any("err", err))
			}
		},
	}, nil
}

func runSync(c *cli.Context) error {
	ctx := c.Context
	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	userID := c.String("user")
	if userID == "" {
		userID = e.cfg.UserID
	}
	if userID == "" {
		return fmt.Errorf("no user id: pass --user or set SCHEDSYNC_USER_ID")
	}
	providerName := c.String("provider")
	calendarID := c.String("calendar")

	pass := func() {
		res, err := e.orch.SyncCalendar(ctx, userID, providerName, calendarID)
		if err != nil {
			e.log.Error("sync pass failed",
				slog.String("provider", providerName),
				slog.String("calendar", calendarID),
				slog.Any("err", err))
			return
		}
		e.log.Info("sync pass complete",
			slog.String("provider", providerName),
			slog.String("calendar", calendarID),
			slog.Int("pulled", res.Pulled),
			slog.Int("pushed", res.Pushed),
			slog.Int("deleted", res.Deleted),
			slog.Int("conflicts", len(res.Conflicts)),
			slog.Bool("full_resync", res.FullResync))
		for _, conflict := range res.Conflicts {
			e.log.Warn("conflict detected",
				slog.String("type", string(conflict.Type)),
				slog.String("severity", string(conflict.Severity)),
				slog.String("subject", conflict.SubjectID),
				slog.String("other", conflict.OtherID))
		}
	}

	pass()
	if !c.Bool("watch") {
		return nil
	}

	e.log.Info("watching", slog.Duration("interval", e.cfg.SyncInterval))
	ticker := time.NewTicker(e.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.log.Info("shutdown signal received")
			return nil
		case <-ticker.C:
			pass()
		}
	}
}

func runCalendars(c *cli.Context) error {
	ctx := c.Context
	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	adapter, ok := e.registry.Get(c.String("provider"))
	if !ok {
		return fmt.Errorf("provider %q is not configured", c.String("provider"))
	}
	if err := adapter.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	cals, err := adapter.DiscoverCalendars(ctx)
	if err != nil {
		return fmt.Errorf("discover calendars: %w", err)
	}
	for _, cal := range cals {
		fmt.Printf("%s\t%s\t%s\n", cal.ID, cal.Name, cal.Access)
	}
	return nil
}

func loadGoogleToken(path string) (*oauth2.Token, error) {
	if path == "" {
		return nil, fmt.Errorf("SCHEDSYNC_GOOGLE_TOKEN_FILE is not set")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &token, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
