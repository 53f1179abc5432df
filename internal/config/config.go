package config

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr     string
	Channel  ChannelConfig
	Cache    CacheConfig
	Codec    CodecConfig
	Library  LibraryConfig
	HTTP     HTTPConfig
	Helix    HelixConfig
	Log      LogConfig
	Viewer   ViewerConfig
	Segments SegmentConfig
}

// ChannelConfig selects where the two config segments live.
type ChannelConfig struct {
	Backend      string // memory, dir, helix
	Dir          string
	PollInterval time.Duration
}

type CacheConfig struct {
	Path      string
	Threshold int
	Keep      int
}

type CodecConfig struct {
	Mode string
}

type LibraryConfig struct {
	Dir       string
	WatchFile string
	WatchName string
}

type HTTPConfig struct {
	AllowedOrigins []string
	RateLimitRPS   int
	RateLimitBurst int
	EnableGzip     bool
	MaxBodyBytes   int
}

type HelixConfig struct {
	ExtensionID   string
	Secret        string
	SecretFile    string
	OwnerID       string
	BroadcasterID string
	ConfigVersion string
}

type LogConfig struct {
	Level  string
	Format string
}

type ViewerConfig struct {
	Enabled bool
}

type SegmentConfig struct {
	Capacity       int
	GlobalCapacity int
}

const (
	defaultAddr         = ":8080"
	defaultBackend      = BackendMemory
	defaultDir          = "segments"
	defaultCachePath    = "overlay-cache.db"
	defaultThreshold    = 512
	defaultKeep         = 16
	defaultCodecMode    = "gzip/base64"
	defaultCapacity     = 5120
	defaultPollInterval = 5 * time.Second
	defaultRateRPS      = 20
	defaultRateBurst    = 40
	defaultMaxBody      = 1 << 20
)

const (
	BackendMemory = "memory"
	BackendDir    = "dir"
	BackendHelix  = "helix"
)

func Load() Config {
	cfg := Config{}

	cfg.Addr = readString("OVERLAY_ADDR", defaultAddr)

	cfg.Channel.Backend = strings.ToLower(readString("OVERLAY_CHANNEL", defaultBackend))
	switch cfg.Channel.Backend {
	case BackendMemory, BackendDir, BackendHelix:
	default:
		cfg.Channel.Backend = defaultBackend
	}
	cfg.Channel.Dir = readString("OVERLAY_CHANNEL_DIR", defaultDir)
	cfg.Channel.PollInterval = readDuration("OVERLAY_POLL_INTERVAL", defaultPollInterval)

	cfg.Cache.Path = strings.TrimSpace(os.Getenv("OVERLAY_CACHE_PATH"))
	if !envExists("OVERLAY_CACHE_PATH") {
		cfg.Cache.Path = defaultCachePath
	}
	cfg.Cache.Threshold = readInt("OVERLAY_CACHE_SANITIZE_BYTES", defaultThreshold)
	cfg.Cache.Keep = readInt("OVERLAY_CACHE_KEEP_BODIES", defaultKeep)

	cfg.Codec.Mode = readString("OVERLAY_CODEC_MODE", defaultCodecMode)

	cfg.Library.Dir = strings.TrimSpace(os.Getenv("OVERLAY_SCRIPTS_DIR"))
	cfg.Library.WatchFile = strings.TrimSpace(os.Getenv("OVERLAY_WATCH_SCRIPT"))
	cfg.Library.WatchName = strings.TrimSpace(os.Getenv("OVERLAY_WATCH_SCRIPT_NAME"))

	cfg.HTTP.AllowedOrigins = splitList(os.Getenv("OVERLAY_ALLOWED_ORIGINS"))
	cfg.HTTP.RateLimitRPS = readInt("OVERLAY_RATE_LIMIT_RPS", defaultRateRPS)
	cfg.HTTP.RateLimitBurst = readInt("OVERLAY_RATE_LIMIT_BURST", defaultRateBurst)
	cfg.HTTP.EnableGzip = readBool("OVERLAY_HTTP_GZIP", true)
	cfg.HTTP.MaxBodyBytes = readInt("OVERLAY_MAX_BODY_BYTES", defaultMaxBody)

	cfg.Helix.ExtensionID = strings.TrimSpace(os.Getenv("OVERLAY_EXTENSION_ID"))
	if cfg.Helix.ExtensionID == "" {
		cfg.Helix.ExtensionID = strings.TrimSpace(os.Getenv("TWITCH_CLIENT_ID"))
	}
	cfg.Helix.Secret = strings.TrimSpace(os.Getenv("OVERLAY_EXTENSION_SECRET"))
	cfg.Helix.SecretFile = strings.TrimSpace(os.Getenv("OVERLAY_EXTENSION_SECRET_FILE"))
	cfg.Helix.OwnerID = strings.TrimSpace(os.Getenv("OVERLAY_EXTENSION_OWNER_ID"))
	cfg.Helix.BroadcasterID = strings.TrimSpace(os.Getenv("OVERLAY_BROADCASTER_ID"))
	cfg.Helix.ConfigVersion = strings.TrimSpace(os.Getenv("OVERLAY_EXTENSION_CONFIG_VERSION"))

	cfg.Log.Level = strings.ToLower(readString("OVERLAY_LOG_LEVEL", "info"))
	cfg.Log.Format = strings.ToLower(readString("OVERLAY_LOG_FORMAT", "text"))

	cfg.Viewer.Enabled = readBool("OVERLAY_VIEWER", true)

	cfg.Segments.Capacity = readInt("OVERLAY_SEGMENT_CAPACITY", defaultCapacity)
	cfg.Segments.GlobalCapacity = readInt("OVERLAY_GLOBAL_SEGMENT_CAPACITY", cfg.Segments.Capacity)

	return cfg
}

func readString(name, def string) string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	return raw
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return dedupe(out)
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(v))
	}
	sort.Strings(out)
	return out
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n <= 0 {
		return def
	}
	return n
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// readDuration accepts Go durations ("5s") or bare milliseconds.
func readDuration(name string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func envExists(name string) bool {
	_, ok := os.LookupEnv(name)
	return ok
}

// HelixReady reports whether enough credentials are set to talk to Twitch.
func (c Config) HelixReady() bool {
	return c.Helix.ExtensionID != "" && c.Helix.OwnerID != "" &&
		c.Helix.BroadcasterID != "" && (c.Helix.Secret != "" || c.Helix.SecretFile != "")
}

func (c Config) Summary() Summary {
	return Summary{
		Addr:         c.Addr,
		Backend:      c.Channel.Backend,
		PollInterval: c.Channel.PollInterval.String(),
		CachePath:    c.Cache.Path,
		CodecMode:    c.Codec.Mode,
		Capacity:     c.Segments.Capacity,
		Viewer:       c.Viewer.Enabled,
		Helix: HelixSummary{
			Ready:         c.HelixReady(),
			ExtensionID:   redactString(c.Helix.ExtensionID),
			BroadcasterID: c.Helix.BroadcasterID,
		},
	}
}

type Summary struct {
	Addr         string       `json:"addr"`
	Backend      string       `json:"channel"`
	PollInterval string       `json:"poll_interval"`
	CachePath    string       `json:"cache_path"`
	CodecMode    string       `json:"codec_mode"`
	Capacity     int          `json:"capacity"`
	Viewer       bool         `json:"viewer"`
	Helix        HelixSummary `json:"helix"`
}

type HelixSummary struct {
	Ready         bool   `json:"ready"`
	ExtensionID   string `json:"extension_id,omitempty"`
	BroadcasterID string `json:"broadcaster_id,omitempty"`
}

func (c Config) Redacted() map[string]any {
	return map[string]any{
		"addr": c.Addr,
		"channel": map[string]any{
			"backend":       c.Channel.Backend,
			"dir":           c.Channel.Dir,
			"poll_interval": c.Channel.PollInterval.String(),
		},
		"cache": map[string]any{
			"path":      c.Cache.Path,
			"threshold": c.Cache.Threshold,
			"keep":      c.Cache.Keep,
		},
		"codec_mode": c.Codec.Mode,
		"library": map[string]any{
			"dir":        c.Library.Dir,
			"watch_file": c.Library.WatchFile,
			"watch_name": c.Library.WatchName,
		},
		"http": map[string]any{
			"allowed_origins":  append([]string(nil), c.HTTP.AllowedOrigins...),
			"rate_limit_rps":   c.HTTP.RateLimitRPS,
			"rate_limit_burst": c.HTTP.RateLimitBurst,
			"gzip":             c.HTTP.EnableGzip,
			"max_body_bytes":   c.HTTP.MaxBodyBytes,
		},
		"helix": map[string]any{
			"extension_id":   redactString(c.Helix.ExtensionID),
			"secret":         redactString(c.Helix.Secret),
			"secret_file":    c.Helix.SecretFile,
			"owner_id":       c.Helix.OwnerID,
			"broadcaster_id": c.Helix.BroadcasterID,
			"config_version": c.Helix.ConfigVersion,
		},
		"log": map[string]any{
			"level":  c.Log.Level,
			"format": c.Log.Format,
		},
		"viewer": c.Viewer.Enabled,
		"segments": map[string]any{
			"capacity":        c.Segments.Capacity,
			"global_capacity": c.Segments.GlobalCapacity,
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}

func (c Config) SummaryJSON() []byte {
	summary := struct {
		Config Summary `json:"config_summary"`
	}{Config: c.Summary()}
	data, _ := json.Marshal(summary)
	return data
}
