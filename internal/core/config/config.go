package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMinZoom = 1
	DefaultMaxZoom = 22
	MaxZoomLimit   = 24
)

type EventsCfg struct {
	Enabled bool   `yaml:"enabled"`
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`

	// Subscribe makes serve evict archives republished by other processes.
	Subscribe bool   `yaml:"subscribe"`
	GroupID   string `yaml:"group_id"`
}

type Config struct {
	Addr       string `yaml:"addr"`
	LogLevel   string `yaml:"log_level"`
	LogConsole bool   `yaml:"log_console"`

	WorkspaceDir string `yaml:"workspace_dir"`
	MinZoom      int    `yaml:"min_zoom"`
	MaxZoom      int    `yaml:"max_zoom"`
	TargetSRS    string `yaml:"target_srs"`
	SourceSRS    string `yaml:"source_srs"`
	OgrBinary    string `yaml:"ogr2ogr_bin"`

	SidecarBinary string `yaml:"sidecar_bin"`
	SidecarAddr   string `yaml:"sidecar_addr"`

	PreviewWorkers int    `yaml:"preview_workers"`
	DBFEncoding    string `yaml:"dbf_encoding"`
	WriteGeoJSON   bool   `yaml:"write_geojson"`

	TileCache      string        `yaml:"tile_cache"`
	TileCacheSize  int           `yaml:"tile_cache_size"`
	TileCacheTTL   time.Duration `yaml:"tile_cache_ttl"`
	RedisAddr      string        `yaml:"redis_addr"`
	CacheOpTimeout time.Duration `yaml:"cache_op_timeout"`
	ArchiveHandles int           `yaml:"archive_handles"`

	Events EventsCfg `yaml:"events"`

	H3Res          int  `yaml:"h3_res"`
	MetricsEnabled bool `yaml:"metrics_enabled"`
}

func FromEnv() Config {
	workers := getint("PREVIEW_WORKERS", runtime.NumCPU())

	cfg := Config{
		Addr:       getenv("ADDR", "127.0.0.1:8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),

		WorkspaceDir: getenv("WORKSPACE_DIR", defaultWorkspace()),
		MinZoom:      getint("TILE_MIN_ZOOM", DefaultMinZoom),
		MaxZoom:      getint("TILE_MAX_ZOOM", DefaultMaxZoom),
		TargetSRS:    getenv("TILE_TARGET_SRS", "EPSG:3857"),
		SourceSRS:    getenv("TILE_SOURCE_SRS", ""),
		OgrBinary:    getenv("OGR2OGR_BIN", "ogr2ogr"),

		SidecarBinary: getenv("SIDECAR_BIN", "martin"),
		SidecarAddr:   getenv("SIDECAR_ADDR", "127.0.0.1:3000"),

		PreviewWorkers: workers,
		DBFEncoding:    getenv("DBF_ENCODING", ""),
		WriteGeoJSON:   getbool("WRITE_GEOJSON", false),

		TileCache:      strings.ToLower(getenv("TILE_CACHE", "lru")),
		TileCacheSize:  getint("TILE_CACHE_SIZE", 4096),
		TileCacheTTL:   getduration("TILE_CACHE_TTL", 10*time.Minute),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		ArchiveHandles: getint("ARCHIVE_HANDLES", 16),

		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("EVENTS_TOPIC", "archive-published"),

			Subscribe: getbool("EVENTS_SUBSCRIBE", false),
			GroupID:   getenv("EVENTS_GROUP_ID", defaultGroupID()),
		},

		H3Res:          getint("H3_RES", 5),
		MetricsEnabled: getbool("METRICS_ENABLED", true),
	}
	cfg.Normalize()
	return cfg
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current value.
func LoadFile(path string, cfg Config) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize clamps ranges and fills blanks with defaults.
func (c *Config) Normalize() {
	if c.MinZoom < 0 {
		c.MinZoom = 0
	}
	if c.MaxZoom > MaxZoomLimit {
		c.MaxZoom = MaxZoomLimit
	}
	if c.MinZoom > c.MaxZoom {
		c.MinZoom, c.MaxZoom = DefaultMinZoom, DefaultMaxZoom
	}
	if c.PreviewWorkers < 1 {
		c.PreviewWorkers = 1
	}
	if c.H3Res < 0 || c.H3Res > 15 {
		c.H3Res = 5
	}
	if c.TileCacheSize < 1 {
		c.TileCacheSize = 4096
	}
	if c.ArchiveHandles < 1 {
		c.ArchiveHandles = 16
	}
	switch c.TileCache {
	case "none", "lru", "redis":
	default:
		c.TileCache = "lru"
	}
	if c.WorkspaceDir == "" {
		c.WorkspaceDir = defaultWorkspace()
	}
}

// BrokerList splits the comma separated broker setting.
func (e EventsCfg) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(e.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// defaultGroupID gives each host its own consumer group so every serve
// instance sees every event.
func defaultGroupID() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "shapetiles"
	}
	return "shapetiles-" + h
}

func defaultWorkspace() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return filepath.Join(wd, "workspace")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
