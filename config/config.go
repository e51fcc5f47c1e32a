// Package config loads the YAML runtime configuration: dimension models,
// page templates, quality thresholds, queue tuning, publisher and indexing
// endpoints.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pagefab/batch"
	"github.com/hazyhaar/pagefab/compose"
	"github.com/hazyhaar/pagefab/dimension"
	"github.com/hazyhaar/pagefab/indexing"
	"github.com/hazyhaar/pagefab/quality"
)

// Duration accepts Go duration strings ("250ms", "6h") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Site identifies the published property.
type Site struct {
	// BaseURL prefixes page slugs when building absolute URLs
	// (e.g. "https://pages.example.com").
	BaseURL string `yaml:"base_url"`
	// Host is reported to push-index endpoints.
	Host string `yaml:"host"`
}

// Publisher points at the CMS REST API pages are created in.
type Publisher struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Queue tunes the batch worker pool.
type Queue struct {
	Workers         int      `yaml:"workers"`
	RatePerSecond   float64  `yaml:"rate_per_second"`
	RateBurst       int      `yaml:"rate_burst"`
	PublishAttempts int      `yaml:"publish_attempts"`
	RetryBase       Duration `yaml:"retry_base"`
}

// Batch converts to the queue's own config type.
func (q Queue) Batch() batch.Config {
	return batch.Config{
		Workers:         q.Workers,
		RatePerSecond:   q.RatePerSecond,
		RateBurst:       q.RateBurst,
		PublishAttempts: q.PublishAttempts,
		RetryBase:       time.Duration(q.RetryBase),
	}
}

// Indexing configures submission endpoints and the retry sweep.
type Indexing struct {
	Host          string              `yaml:"host"`
	Endpoints     []indexing.Endpoint `yaml:"endpoints"`
	MinAge        Duration            `yaml:"min_age"`
	RetryInterval Duration            `yaml:"retry_interval"`
	MaxRetries    int                 `yaml:"max_retries"`
	HTTPTimeout   Duration            `yaml:"http_timeout"`
}

// Service converts to the indexing service's own config type.
func (i Indexing) Service() indexing.Config {
	return indexing.Config{
		Host:          i.Host,
		Endpoints:     i.Endpoints,
		MinAge:        time.Duration(i.MinAge),
		RetryInterval: time.Duration(i.RetryInterval),
		MaxRetries:    i.MaxRetries,
		HTTPTimeout:   time.Duration(i.HTTPTimeout),
	}
}

// Model is the declarative form of a dimension model; BuildModels compiles
// and validates it.
type Model struct {
	Name       string                `yaml:"name"`
	Dimensions []dimension.Dimension `yaml:"dimensions"`
	Rules      []dimension.Rule      `yaml:"rules"`
}

// File is the whole configuration document.
type File struct {
	Listen     string             `yaml:"listen"`
	DBPath     string             `yaml:"db_path"`
	LogLevel   string             `yaml:"log_level"`
	ContentDir string             `yaml:"content_dir"`
	Site       Site               `yaml:"site"`
	Publisher  Publisher          `yaml:"publisher"`
	Queue      Queue              `yaml:"queue"`
	Thresholds quality.Thresholds `yaml:"thresholds"`
	Models     []Model            `yaml:"models"`
	Templates  []compose.Template `yaml:"templates"`
	Indexing   Indexing           `yaml:"indexing"`
	Schedules  indexing.Schedules `yaml:"schedules"`
}

func (f *File) defaults() {
	if f.Listen == "" {
		f.Listen = ":8086"
	}
	if f.DBPath == "" {
		f.DBPath = "db/pagefab.db"
	}
	if f.LogLevel == "" {
		f.LogLevel = "info"
	}
	if f.ContentDir == "" {
		f.ContentDir = "content"
	}
	if f.Indexing.Host == "" {
		f.Indexing.Host = f.Site.Host
	}
}

// Load reads and validates the configuration file. Unknown keys are
// rejected so typos fail at boot instead of silently taking defaults.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a configuration document from memory.
func Parse(raw []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	f.defaults()
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	names := make(map[string]struct{}, len(f.Models))
	for _, m := range f.Models {
		if _, dup := names[m.Name]; dup {
			return fmt.Errorf("config: duplicate model %q", m.Name)
		}
		names[m.Name] = struct{}{}
	}
	ids := make(map[string]struct{}, len(f.Templates))
	for _, t := range f.Templates {
		if t.ID == "" {
			return fmt.Errorf("config: template without id")
		}
		if _, dup := ids[t.ID]; dup {
			return fmt.Errorf("config: duplicate template %q", t.ID)
		}
		ids[t.ID] = struct{}{}
	}
	return nil
}

// BuildModels compiles every declared model. Rule and value errors surface
// here, at boot, never during a run.
func (f *File) BuildModels() (map[string]*dimension.Model, error) {
	out := make(map[string]*dimension.Model, len(f.Models))
	for _, m := range f.Models {
		built, err := dimension.NewModel(m.Name, m.Dimensions, m.Rules)
		if err != nil {
			return nil, fmt.Errorf("config: model %q: %w", m.Name, err)
		}
		out[m.Name] = built
	}
	return out, nil
}

// TemplateMap keys the declared templates by ID.
func (f *File) TemplateMap() map[string]*compose.Template {
	out := make(map[string]*compose.Template, len(f.Templates))
	for i := range f.Templates {
		t := f.Templates[i]
		out[t.ID] = &t
	}
	return out
}

// SlogLevel maps the configured log level string onto slog.
func (f *File) SlogLevel() slog.Level {
	switch f.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
