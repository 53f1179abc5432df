package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/you/grimoire-overlay/internal/cache"
	"github.com/you/grimoire-overlay/internal/channel"
	"github.com/you/grimoire-overlay/internal/codec"
	"github.com/you/grimoire-overlay/internal/config"
	"github.com/you/grimoire-overlay/internal/filechannel"
	"github.com/you/grimoire-overlay/internal/helix"
	httpadmin "github.com/you/grimoire-overlay/internal/http"
	"github.com/you/grimoire-overlay/internal/httpapi"
	"github.com/you/grimoire-overlay/internal/publisher"
	"github.com/you/grimoire-overlay/internal/reconcile"
	"github.com/you/grimoire-overlay/internal/record"
	"github.com/you/grimoire-overlay/internal/script"
	"github.com/you/grimoire-overlay/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	_ = godotenv.Load()

	var (
		versionFlag  bool
		addr         string
		backend      string
		segmentDir   string
		cachePath    string
		codecMode    string
		scriptsDir   string
		watchScript  string
		watchName    string
		pollInterval time.Duration
		corsOrigins  string
		logLevel     string
		logFormat    string
		viewer       bool
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&addr, "addr", ":8080", "HTTP listen address")
	flag.StringVar(&backend, "channel", config.BackendMemory, "Segment backend: memory, dir or helix")
	flag.StringVar(&segmentDir, "dir", "segments", "Directory for the dir backend")
	flag.StringVar(&cachePath, "cache", "overlay-cache.db", "SQLite warm-start cache path (empty disables)")
	flag.StringVar(&codecMode, "codec", codec.DefaultMode, "Preferred compression mode")
	flag.StringVar(&scriptsDir, "scripts", "", "Directory of builtin scripts served under /Allscript/")
	flag.StringVar(&watchScript, "watch-script", "", "Republish this custom script file whenever it changes")
	flag.StringVar(&watchName, "watch-script-name", "", "Custom name for -watch-script")
	flag.DurationVar(&pollInterval, "poll", channel.DefaultPollInterval, "Poll interval for backends without push")
	flag.StringVar(&corsOrigins, "cors-origins", "", "Comma-separated list of allowed CORS origins (empty echoes any)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	flag.BoolVar(&viewer, "viewer", true, "Run the local viewer loop behind /overlay/script")
	flag.Parse()

	if versionFlag {
		fmt.Printf("overlayd version: %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildTime)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()
	if overrides["addr"] {
		cfg.Addr = strings.TrimSpace(addr)
	}
	if overrides["channel"] {
		cfg.Channel.Backend = strings.ToLower(strings.TrimSpace(backend))
	}
	if overrides["dir"] {
		cfg.Channel.Dir = strings.TrimSpace(segmentDir)
	}
	if overrides["cache"] {
		cfg.Cache.Path = strings.TrimSpace(cachePath)
	}
	if overrides["codec"] {
		cfg.Codec.Mode = strings.TrimSpace(codecMode)
	}
	if overrides["scripts"] {
		cfg.Library.Dir = strings.TrimSpace(scriptsDir)
	}
	if overrides["watch-script"] {
		cfg.Library.WatchFile = strings.TrimSpace(watchScript)
	}
	if overrides["watch-script-name"] {
		cfg.Library.WatchName = strings.TrimSpace(watchName)
	}
	if overrides["poll"] && pollInterval > 0 {
		cfg.Channel.PollInterval = pollInterval
	}
	if overrides["cors-origins"] {
		cfg.HTTP.AllowedOrigins = strings.Split(corsOrigins, ",")
	}
	if overrides["log-level"] {
		cfg.Log.Level = strings.ToLower(logLevel)
	}
	if overrides["log-format"] {
		cfg.Log.Format = strings.ToLower(logFormat)
	}
	if overrides["viewer"] {
		cfg.Viewer.Enabled = viewer
	}

	setupLogging(cfg.Log)
	log.Printf("%s", cfg.SummaryJSON())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("overlayd: received %s, shutting down", sig)
		cancel()
	}()

	store, err := openBackend(cfg)
	if err != nil {
		log.Fatalf("overlayd: channel %s: %v", cfg.Channel.Backend, err)
	}
	library := script.NewLibrary(cfg.Library.Dir)

	var warm *cache.Store
	if cfg.Cache.Path != "" {
		warm, err = cache.Open(cfg.Cache.Path)
		if err != nil {
			log.Fatalf("overlayd: open cache: %v", err)
		}
		warm.Threshold = cfg.Cache.Threshold
		warm.Keep = cfg.Cache.Keep
		defer func() {
			if err := warm.Close(); err != nil {
				log.Printf("overlayd: closing cache: %v", err)
			}
		}()
		log.Printf("overlayd: cache ready at %s", warm)
	}

	cdc := codec.ForMode(cfg.Codec.Mode)
	reconciler := &reconcile.Reconciler{
		Channel: store,
		Codec:   cdc,
		Library: library,
		Logger:  slog.Default(),
	}
	if warm != nil {
		reconciler.Cache = warm
	}

	var view *reconcile.Viewer
	opts := httpapi.Options{
		Addr:           cfg.Addr,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
		EnableGzip:     cfg.HTTP.EnableGzip,
		MaxBodyBytes:   int64(cfg.HTTP.MaxBodyBytes),
		Build: httpapi.BuildInfo{
			Version:  version.Version,
			Revision: version.Commit,
			BuiltAt:  version.BuiltAt(),
		},
		Library: library,
	}
	if cfg.Viewer.Enabled {
		view = &reconcile.Viewer{
			Reconciler: reconciler,
			Source:     channel.SourceFor(store, cfg.Channel.PollInterval),
			Render: func(res reconcile.Result) {
				log.Printf("overlayd: rendering %d roles (source=%s signature=%s)", len(res.Body.IDs), res.Source, res.Record.Signature())
			},
		}
		opts.Overlay = view
	}
	api := httpapi.New(store, opts)
	reconciler.Metrics = reconcile.NewMetrics(api.Metrics().Registry())

	builder := record.NewBuilder(cdc)
	builder.Capacity = cfg.Segments.Capacity
	builder.GlobalCapacity = cfg.Segments.GlobalCapacity

	// writes go through the api so websocket subscribers hear about them
	pub := publisher.New(api, builder)
	pub.SetLogger(slog.Default())
	if _, push := store.(channel.Notifier); !push && view != nil {
		pub.SetOnSaved(func(publisher.Outcome) { view.Refresh(ctx) })
	}

	httpadmin.New(pub, reconciler).Register(api.Mux())

	if cfg.Library.WatchFile != "" {
		if err := pub.WatchScriptFile(ctx, cfg.Library.WatchFile, cfg.Library.WatchName); err != nil {
			log.Printf("overlayd: watch script %s: %v", cfg.Library.WatchFile, err)
		} else {
			log.Printf("overlayd: republishing %s on change", cfg.Library.WatchFile)
		}
	}

	go func() {
		if err := api.Start(); err != nil {
			log.Fatalf("overlayd: http api: %v", err)
		}
	}()
	if view != nil {
		go func() {
			if err := view.Run(ctx); err != nil {
				log.Printf("overlayd: viewer stopped: %v", err)
			}
		}()
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Printf("overlayd: http shutdown: %v", err)
	}
	log.Printf("overlayd: stopped")
}

func openBackend(cfg config.Config) (channel.Adapter, error) {
	switch cfg.Channel.Backend {
	case config.BackendDir:
		return filechannel.Open(cfg.Channel.Dir, cfg.Segments.Capacity)
	case config.BackendHelix:
		if !cfg.HelixReady() {
			return nil, fmt.Errorf("extension id, owner id, broadcaster id and secret are required")
		}
		var secret helix.SecretSource = helix.StaticSecret(cfg.Helix.Secret)
		if cfg.Helix.SecretFile != "" {
			secret = helix.NewFileSecretLoader(cfg.Helix.SecretFile)
		}
		client := helix.New(cfg.Helix.ExtensionID, cfg.Helix.OwnerID, cfg.Helix.BroadcasterID, secret)
		client.ConfigVersion = cfg.Helix.ConfigVersion
		client.Capacity = cfg.Segments.Capacity
		return client, nil
	}
	return channel.NewMemory(cfg.Segments.Capacity), nil
}

func setupLogging(cfg config.LogConfig) {
	lvl := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}
