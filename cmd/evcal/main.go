package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"evcal/internal/calendar"
	"evcal/internal/config"
	"evcal/internal/datetime"
	"evcal/internal/feed"
	"evcal/internal/ics"
	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/web"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "evcal",
		Usage:   "Serve recurring event occurrences as JSON and iCalendar.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "/etc/evcal/config.yaml",
				Usage:   "Path to config file",
				EnvVars: []string{"EVCAL_CONFIG"},
			},
			&cli.StringFlag{Name: "log-level", Usage: "Override log level (debug, info, warn, error)"},
		},
		Commands: []*cli.Command{
			serveCommand(),
			exportCommand(),
			expandCommand(),
		},
	}

	err := app.Run(os.Args)
	appLog.Sync()
	if err != nil {
		appLog.Error("evcal failed", err)
		os.Exit(1)
	}
}

// loadConfig reads the config named by the global flags and applies the
// log level.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API with scheduled feed refresh.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config if set)"},
			&cli.BoolFlag{Name: "no-feeds", Usage: "Do not import configured ICS feeds"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if l := c.String("listen"); l != "" {
				cfg.Listen = l
			}
			return serve(c.Context, cfg, !c.Bool("no-feeds"))
		},
	}
}

func serve(parent context.Context, cfg *config.Config, withFeeds bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLog.Info("evcal starting", "version", version)
	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"versions_backend", cfg.Versions.Backend,
		"cache_ttl", cfg.Cache.TTL,
		"feed_count", len(cfg.Feeds),
		"write_api", cfg.WriteEnabled(),
	)

	d, err := build(ctx, cfg)
	if err != nil {
		return err
	}

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Cache.SweepCron, func() {
		if n := d.cache.Sweep(); n > 0 {
			appLog.Debug("cache sweep", "removed", n, "remaining", d.cache.Len())
		}
	}); err != nil {
		return fmt.Errorf("cache sweep schedule %q: %w", cfg.Cache.SweepCron, err)
	}

	if withFeeds && len(cfg.Feeds) > 0 {
		syncer := feed.NewSyncer(ics.NewFetcher(nil, cfg.FeedCacheDir), d.store, cfg.Feeds)
		refresh := func() {
			if _, err := syncer.Sync(ctx); err != nil {
				appLog.Error("feed refresh had failures", err)
			}
		}
		if _, err := sched.AddFunc(cfg.RefreshCron, refresh); err != nil {
			return fmt.Errorf("feed refresh schedule %q: %w", cfg.RefreshCron, err)
		}
		go refresh()
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           web.NewServer(cfg, web.Deps{Service: d.svc, Writer: d.store, Favorites: d.favorites}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	appLog.Info("evcal exiting")
	return nil
}

// rangeFlags are shared by export and expand.
func rangeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "start", Usage: "Range start (ISO 8601 or epoch seconds)"},
		&cli.StringFlag{Name: "end", Usage: "Range end (ISO 8601 or epoch seconds)"},
	}
}

func parseRange(c *cli.Context, loc *time.Location) (model.QueryRange, error) {
	var r model.QueryRange
	for _, f := range []struct {
		name string
		dst  **time.Time
	}{{"start", &r.Start}, {"end", &r.End}} {
		raw := c.String(f.name)
		if raw == "" {
			continue
		}
		t, err := datetime.Parse(raw, loc)
		if err != nil {
			return r, fmt.Errorf("--%s: %w", f.name, err)
		}
		*f.dst = &t
	}
	return r, nil
}

// loadOnce builds the service and runs one feed import so offline
// commands see the same events as the server.
func loadOnce(c *cli.Context) (*deps, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	d, err := build(c.Context, cfg)
	if err != nil {
		return nil, err
	}
	if len(cfg.Feeds) > 0 {
		syncer := feed.NewSyncer(ics.NewFetcher(nil, cfg.FeedCacheDir), d.store, cfg.Feeds)
		if _, err := syncer.Sync(c.Context); err != nil {
			appLog.Error("feed import had failures", err)
		}
	}
	return d, nil
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write matching occurrences as an iCalendar file.",
		Flags: append(rangeFlags(),
			&cli.StringSliceFlag{Name: "category", Usage: "Restrict to category slugs"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (default stdout)"},
		),
		Action: func(c *cli.Context) error {
			d, err := loadOnce(c)
			if err != nil {
				return err
			}
			r, err := parseRange(c, d.cfg.Location())
			if err != nil {
				return err
			}
			occ, err := d.svc.All(c.Context, calendar.Query{Range: r, Categories: c.StringSlice("category")})
			if err != nil {
				return err
			}

			var w io.Writer = os.Stdout
			if path := c.String("out"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return ics.NewSerializer().WriteTo(w, occ)
		},
	}
}

func expandCommand() *cli.Command {
	return &cli.Command{
		Name:      "expand",
		Usage:     "Print the occurrences of one event as JSON.",
		ArgsUsage: "<event-id>",
		Flags:     rangeFlags(),
		Action: func(c *cli.Context) error {
			id, err := strconv.ParseInt(c.Args().First(), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("expand: event id required")
			}
			d, err := loadOnce(c)
			if err != nil {
				return err
			}
			r, err := parseRange(c, d.cfg.Location())
			if err != nil {
				return err
			}

			var out any
			if r.Unbounded() {
				out, err = d.svc.Event(c.Context, id, "")
			} else {
				out, err = d.svc.All(c.Context, calendar.Query{Range: r, EventID: id})
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
