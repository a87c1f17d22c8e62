// Package config handles engine configuration loading and management.
package config

import (
	"time"

	"github.com/penandalokasi/skirkmarble/internal/intercept"
	"github.com/penandalokasi/skirkmarble/internal/logger"
)

// Config holds all engine settings.
type Config struct {
	Profile   intercept.Profile `yaml:"profile"`
	Engine    EngineConfig      `yaml:"engine"`
	TileCache TileCacheConfig   `yaml:"tile_cache"`
	Storage   StorageConfig     `yaml:"storage"`
	Proxy     ProxyConfig       `yaml:"proxy"`
	Logging   LoggingConfig     `yaml:"logging"`
}

// EngineConfig holds render pipeline settings.
type EngineConfig struct {
	// RenderDeadline is the soft compositing deadline; on expiry the
	// original tile is forwarded and the render finishes in the
	// background.
	RenderDeadline time.Duration `yaml:"render_deadline"`
	// MaxTemplatePixels bounds opaque pixels per ingested template.
	MaxTemplatePixels int `yaml:"max_template_pixels"`
	// Whoami is the author identity stamped into persisted documents.
	Whoami string `yaml:"whoami"`
}

// TileCacheConfig bounds the composited tile cache.
type TileCacheConfig struct {
	MaxEntries int   `yaml:"max_entries"`
	ByteBudget int64 `yaml:"byte_budget"`
}

// StorageConfig holds persistence paths. An empty SQLitePath or FileDir
// disables that backend; with both set the SQLite side is primary and the
// file side the mirror.
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	FileDir    string `yaml:"file_dir"`
}

// ProxyConfig holds the marbleproxy listener settings.
type ProxyConfig struct {
	Listen   string `yaml:"listen"`
	Upstream string `yaml:"upstream"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
	LogFile string `yaml:"log_file"`
}

// Logger converts the section into the logger package's config.
func (l LoggingConfig) Logger() logger.Config {
	cfg := logger.Config{Level: l.Level, Console: l.Console}
	if l.LogFile != "" {
		cfg.File = logger.DefaultFile(l.LogFile)
	}
	return cfg
}

// Default returns a Config with sensible default values. The profile
// matches the main wplace deployment.
func Default() *Config {
	return &Config{
		Profile: intercept.Profile{
			TilePattern:  `/files/s0/tiles/(?P<x>-?\d+)/(?P<y>-?\d+)\.png$`,
			WritePattern: `/s0/pixel/(?P<x>-?\d+)/(?P<y>-?\d+)$`,
			DenyHosts:    []string{"tiles.openfreemap.org", "maps.wplace.live"},
		},
		Engine: EngineConfig{
			RenderDeadline:    250 * time.Millisecond,
			MaxTemplatePixels: 4_000_000,
			Whoami:            "anon",
		},
		TileCache: TileCacheConfig{
			MaxEntries: 256,
			ByteBudget: 64 << 20,
		},
		Storage: StorageConfig{
			SQLitePath: "skirkmarble.db",
			FileDir:    "kv",
		},
		Proxy: ProxyConfig{
			Listen:   "127.0.0.1:8533",
			Upstream: "https://backend.wplace.live",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}
