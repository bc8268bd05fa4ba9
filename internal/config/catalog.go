package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CatalogEntry is one feature limit declared in features.yml.
type CatalogEntry struct {
	Key          string `mapstructure:"key"`
	Name         string `mapstructure:"name"`
	Description  string `mapstructure:"description"`
	DefaultValue int64  `mapstructure:"defaultValue"`
	Unlimited    bool   `mapstructure:"unlimited"`
	Active       *bool  `mapstructure:"active"`
}

func DefaultCatalog() []CatalogEntry {
	return []CatalogEntry{
		{Key: "video_analysis", Name: "Video analysis", Description: "Aggregated statistics for a pasted video URL", DefaultValue: 10},
		{Key: "thumbnail_download", Name: "Thumbnail download", Description: "Full resolution thumbnail downloads", DefaultValue: 20},
		{Key: "tag_extraction", Name: "Tag extraction", Description: "Video tag listing and export", DefaultValue: 10},
		{Key: "video_download", Name: "Video download", Description: "Redirect-based download links", DefaultValue: 5},
	}
}

// CatalogHolder keeps the latest validated catalog and notifies subscribers on reload.
type CatalogHolder struct {
	current atomic.Value // holds []CatalogEntry

	mu        sync.Mutex
	listeners []func([]CatalogEntry)
}

// NewCatalogHolder reads features.yml from cfg.Quota.CatalogPath, /etc/featuregate
// or the working directory and watches it for changes.
func NewCatalogHolder(cfg Config, log *zap.Logger) (*CatalogHolder, error) {
	v := viper.New()

	v.SetConfigName("features")
	v.SetConfigType("yml")
	if path := strings.TrimSpace(cfg.Quota.CatalogPath); path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("/etc/featuregate")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FEATUREGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &CatalogHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Info("feature catalog file not found, using defaults")
		holder.current.Store(DefaultCatalog())
		return holder, nil
	}

	entries, err := decodeCatalog(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(entries)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeCatalog(v)
		if err != nil {
			log.Warn("feature catalog reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("feature catalog reloaded", zap.String("file", e.Name), zap.Int("features", len(updated)))
		holder.notify(updated)
	})

	return holder, nil
}

// NewStaticCatalogHolder wraps a fixed catalog, mainly for tests and tooling.
func NewStaticCatalogHolder(entries []CatalogEntry) (*CatalogHolder, error) {
	if err := ValidateCatalog(entries); err != nil {
		return nil, err
	}
	holder := &CatalogHolder{}
	holder.current.Store(entries)
	return holder, nil
}

func (h *CatalogHolder) Get() []CatalogEntry {
	return h.current.Load().([]CatalogEntry)
}

// OnChange registers fn to run after every successful reload.
func (h *CatalogHolder) OnChange(fn func([]CatalogEntry)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

func (h *CatalogHolder) notify(entries []CatalogEntry) {
	h.mu.Lock()
	listeners := append([]func([]CatalogEntry){}, h.listeners...)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(entries)
	}
}

func decodeCatalog(v *viper.Viper) ([]CatalogEntry, error) {
	var entries []CatalogEntry
	if err := v.UnmarshalKey("features", &entries); err != nil {
		return nil, err
	}
	if err := ValidateCatalog(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ValidateCatalog rejects empty catalogs, blank or duplicate keys and negative limits.
func ValidateCatalog(entries []CatalogEntry) error {
	if len(entries) == 0 {
		return errors.New("features cannot be empty")
	}
	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		key := strings.ToLower(strings.TrimSpace(entry.Key))
		if key == "" {
			return fmt.Errorf("features[%d].key is required", i)
		}
		if _, ok := seen[key]; ok {
			return fmt.Errorf("features[%d].key %q is duplicated", i, key)
		}
		seen[key] = struct{}{}
		if entry.DefaultValue < 0 {
			return fmt.Errorf("features[%d].defaultValue must be >= 0", i)
		}
	}
	return nil
}
