package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"flightdelay/logging"
	"flightdelay/ml"
	"flightdelay/tuning"
)

// Config is the shared configuration of the trainer and the server.
type Config struct {
	Data      DataConfig          `yaml:"data"`
	Features  ml.FeatureSchema    `yaml:"features"`
	Split     SplitConfig         `yaml:"split"`
	Model     ModelConfig         `yaml:"model"`
	Search    tuning.SearchConfig `yaml:"search"`
	Storage   StorageConfig       `yaml:"storage"`
	Artifacts ArtifactsConfig     `yaml:"artifacts"`
	HTTP      HTTPConfig          `yaml:"http"`
	Log       logging.Config      `yaml:"log"`

	// Source is the file the config was read from, empty when only defaults apply.
	Source string `yaml:"-"`
}

type DataConfig struct {
	Dir                   string  `yaml:"dir"`
	File                  string  `yaml:"file"`
	Encoding              string  `yaml:"encoding"`
	Delimiter             string  `yaml:"delimiter"`
	DropDuplicates        bool    `yaml:"drop_duplicates"`
	DelayThresholdMinutes float64 `yaml:"delay_threshold_minutes"`
}

func (d DataConfig) Path() string {
	return filepath.Join(d.Dir, d.File)
}

type SplitConfig struct {
	TestRatio       float64 `yaml:"test_ratio"`
	ValidationRatio float64 `yaml:"validation_ratio"`
	Seed            int64   `yaml:"seed"`
}

type ModelConfig struct {
	Type   string            `yaml:"type"`
	Params ml.BoostingParams `yaml:"params"`
}

type StorageConfig struct {
	Dir string `yaml:"dir"`
}

// StudyPath is the sqlite file holding a study, one file per study name.
func (s StorageConfig) StudyPath(study string) string {
	return filepath.Join(s.Dir, study+".db")
}

type ArtifactsConfig struct {
	Dir     string `yaml:"dir"`
	Encoder string `yaml:"encoder"`
	Model   string `yaml:"model"`
}

func (a ArtifactsConfig) EncoderPath() string { return filepath.Join(a.Dir, a.Encoder) }
func (a ArtifactsConfig) ModelPath() string   { return filepath.Join(a.Dir, a.Model) }

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CacheSize       int           `yaml:"cache_size"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

func Default() *Config {
	return &Config{
		Data: DataConfig{
			Dir:                   "data",
			File:                  "dataset_SCL.csv",
			Encoding:              "utf-8",
			Delimiter:             ",",
			DelayThresholdMinutes: 15,
		},
		Features: ml.DefaultFeatureSchema(),
		Split: SplitConfig{
			TestRatio:       0.30,
			ValidationRatio: 0.5,
			Seed:            42,
		},
		Model: ModelConfig{
			Type:   ml.ModelTypeGradientBoosting,
			Params: ml.DefaultBoostingParams(),
		},
		Search:  tuning.DefaultSearchConfig(),
		Storage: StorageConfig{Dir: "optuna_db"},
		Artifacts: ArtifactsConfig{
			Dir:     "models",
			Encoder: "encoder.json",
			Model:   "model.json",
		},
		HTTP: HTTPConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			MaxBodyBytes:    64 << 10,
			CacheSize:       4096,
			MetricsInterval: 5 * time.Second,
		},
		Log: logging.DefaultConfig(),
	}
}

// Load applies, in order: defaults, the YAML file at path (skipped when it
// does not exist), a .env file in the working directory, environment
// overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		payload, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.UnmarshalStrict(payload, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			cfg.Source = path
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.HTTP.Port = port
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.Data.Dir = v
	}
	if v := os.Getenv("MODELS_DIR"); v != "" {
		c.Artifacts.Dir = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Data.Dir == "" || c.Data.File == "" {
		return errors.New("data.dir and data.file are required")
	}
	if c.Data.DelayThresholdMinutes < 0 {
		return errors.New("data.delay_threshold_minutes must not be negative")
	}
	if err := c.Features.Validate(); err != nil {
		return err
	}
	if c.Split.TestRatio <= 0 || c.Split.TestRatio >= 1 {
		return fmt.Errorf("split.test_ratio must be in (0, 1), got %v", c.Split.TestRatio)
	}
	if c.Split.ValidationRatio <= 0 || c.Split.ValidationRatio >= 1 {
		return fmt.Errorf("split.validation_ratio must be in (0, 1), got %v", c.Split.ValidationRatio)
	}
	if c.Model.Type != ml.ModelTypeGradientBoosting {
		return fmt.Errorf("unsupported model.type %q", c.Model.Type)
	}
	if err := c.Model.Params.Validate(); err != nil {
		return fmt.Errorf("model.params: %w", err)
	}
	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if c.Artifacts.Dir == "" || c.Artifacts.Encoder == "" || c.Artifacts.Model == "" {
		return errors.New("artifacts.dir, artifacts.encoder and artifacts.model are required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	if c.HTTP.CacheSize < 0 || c.HTTP.MaxBodyBytes <= 0 {
		return errors.New("http.cache_size must be >= 0 and http.max_body_bytes > 0")
	}
	return c.Log.Validate()
}
