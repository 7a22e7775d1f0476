package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration.
type Config struct {
	Dirs    DirsConfig    `yaml:"dirs" envconfig:"DIRS"`
	Input   InputConfig   `yaml:"input" envconfig:"INPUT"`
	Report  ReportConfig  `yaml:"report" envconfig:"REPORT"`
	Schema  SchemaConfig  `yaml:"schema" ignored:"true"`
	KPI     KPIConfig     `yaml:"kpi" ignored:"true"`
	Email   EmailConfig   `yaml:"email" envconfig:"EMAIL"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
}

// DirsConfig contains the five working directories of a run.
type DirsConfig struct {
	Inbox     string `yaml:"inbox" envconfig:"INBOX" validate:"required"`
	Processed string `yaml:"processed" envconfig:"PROCESSED" validate:"required"`
	Failed    string `yaml:"failed" envconfig:"FAILED" validate:"required"`
	Output    string `yaml:"output" envconfig:"OUTPUT" validate:"required"`
	Logs      string `yaml:"logs" envconfig:"LOGS" validate:"required"`
}

// InputConfig controls which inbox files are picked up.
type InputConfig struct {
	Globs []string `yaml:"globs" envconfig:"GLOBS"`
}

// ReportConfig controls which artifacts a run produces.
type ReportConfig struct {
	Basename        string `yaml:"basename" envconfig:"BASENAME" validate:"required"`
	WriteCleanedCSV bool   `yaml:"write_cleaned_csv" envconfig:"WRITE_CLEANED_CSV"`
	WriteKPIJSON    bool   `yaml:"write_kpi_json" envconfig:"WRITE_KPI_JSON"`
	WriteKPIXLSX    bool   `yaml:"write_kpi_xlsx" envconfig:"WRITE_KPI_XLSX"`
}

// ColumnType enumerates the declared types a survey column may carry.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
	TypeDate   = "date"
)

// ColumnSpec declares one expected input column and how to normalize it.
type ColumnSpec struct {
	Name string `yaml:"name" validate:"required"`
	Type string `yaml:"type" validate:"omitempty,oneof=string int float bool date"`

	// Required columns must be present in every input file; a file missing
	// one fails validation as a whole rather than row by row.
	Required bool `yaml:"required"`

	// Categorical columns get whitespace-collapsed, title-cased canonical
	// values for comparison. Canonicalize additionally replaces the stored
	// value with the canonical form.
	Categorical  bool `yaml:"categorical"`
	Canonicalize bool `yaml:"canonicalize"`

	// Default substitutes for values that fail coercion when the schema
	// policy is "default". An empty string means no substitute.
	Default string `yaml:"default"`
}

// Dedup policies. KeepFirst retains the earliest record for a key,
// KeepLast the latest, both deterministic in input order.
const (
	KeepFirst = "first"
	KeepLast  = "last"
)

// Bad-value policies applied when a cell fails type coercion.
const (
	OnBadValueDrop    = "drop"
	OnBadValueDefault = "default"
)

// SchemaConfig declares the expected input columns and the dedup rule.
type SchemaConfig struct {
	Columns     []ColumnSpec `yaml:"columns" validate:"required,min=1,dive"`
	DedupKeys   []string     `yaml:"dedup_keys"`
	DedupKeep   string       `yaml:"dedup_keep" validate:"omitempty,oneof=first last"`
	OnBadValue  string       `yaml:"on_bad_value" validate:"omitempty,oneof=drop default"`
	DateLayouts []string     `yaml:"date_layouts"`
}

// Column returns the spec for the named column, if declared.
func (s SchemaConfig) Column(name string) (ColumnSpec, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// MetricSpec defines one named aggregate over a source column.
type MetricSpec struct {
	Name      string `yaml:"name" validate:"required"`
	Column    string `yaml:"column" validate:"required"`
	Aggregate string `yaml:"aggregate" validate:"required,oneof=count mean rate distinct"`
}

// KPISpec pairs grouping columns with the metrics computed per group.
type KPISpec struct {
	GroupBy []string     `yaml:"group_by"`
	Metrics []MetricSpec `yaml:"metrics" validate:"required,min=1,dive"`
}

// HeadlineSpec maps survey columns to the headline KPIs carried in the
// report summary and email body.
type HeadlineSpec struct {
	ServiceColumn   string `yaml:"service_column" validate:"required"`
	RegionColumn    string `yaml:"region_column" validate:"required"`
	SatisfiedColumn string `yaml:"satisfied_column" validate:"required"`
	RecommendColumn string `yaml:"recommend_column" validate:"required"`
}

// KPIConfig lists the grouped KPI tables and the optional headline block.
type KPIConfig struct {
	Groups   []KPISpec     `yaml:"groups" validate:"dive"`
	Headline *HeadlineSpec `yaml:"headline"`
}

// EmailConfig contains SMTP delivery settings. Credentials are never read
// from the file; the mailer takes them from SURVEY_SMTP_USER and
// SURVEY_SMTP_PASS.
type EmailConfig struct {
	Enabled       bool     `yaml:"enabled" envconfig:"ENABLED"`
	Host          string   `yaml:"host" envconfig:"HOST"`
	Port          int      `yaml:"port" envconfig:"PORT"`
	StartTLS      bool     `yaml:"starttls" envconfig:"STARTTLS"`
	From          string   `yaml:"from" envconfig:"FROM"`
	To            []string `yaml:"to" envconfig:"TO"`
	SubjectPrefix string   `yaml:"subject_prefix" envconfig:"SUBJECT_PREFIX"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// Load loads configuration from the given YAML file and applies
// environment overrides (prefix SURVEY), then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Environment variables take precedence over the file.
	if err := envconfig.Process("SURVEY", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for structural and semantic errors.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Dedup keys and KPI columns must refer to declared columns.
	for _, key := range c.Schema.DedupKeys {
		if _, ok := c.Schema.Column(key); !ok {
			return fmt.Errorf("config validation failed: dedup key %q is not a declared column", key)
		}
	}
	for _, spec := range c.KPI.Groups {
		for _, g := range spec.GroupBy {
			if _, ok := c.Schema.Column(g); !ok {
				return fmt.Errorf("config validation failed: group_by column %q is not a declared column", g)
			}
		}
		for _, m := range spec.Metrics {
			if _, ok := c.Schema.Column(m.Column); !ok {
				return fmt.Errorf("config validation failed: metric %q references undeclared column %q", m.Name, m.Column)
			}
		}
	}

	if c.Email.Enabled {
		if c.Email.Host == "" || c.Email.Port <= 0 || c.Email.From == "" || len(c.Email.To) == 0 {
			return fmt.Errorf("config validation failed: email enabled but host, port, from or to is missing")
		}
	}

	return nil
}

// EnsureDirs creates the working directories if they do not exist.
func (c *Config) EnsureDirs() error {
	dirs := []string{c.Dirs.Inbox, c.Dirs.Processed, c.Dirs.Failed, c.Dirs.Output, c.Dirs.Logs}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// LogFilePath returns the resolved log file path.
func (c *Config) LogFilePath() string {
	if c.Logging.FilePath != "" {
		return c.Logging.FilePath
	}
	return filepath.Join(c.Dirs.Logs, "app.log")
}

func (c *Config) applyDefaults() {
	if len(c.Input.Globs) == 0 {
		c.Input.Globs = []string{"*.csv", "*.xlsx", "*.json"}
	}
	if c.Report.Basename == "" {
		c.Report.Basename = "weekly_report"
	}
	if c.Schema.DedupKeep == "" {
		c.Schema.DedupKeep = KeepFirst
	}
	if c.Schema.OnBadValue == "" {
		c.Schema.OnBadValue = OnBadValueDrop
	}
	if len(c.Schema.DateLayouts) == 0 {
		c.Schema.DateLayouts = []string{"2006-01-02", "2006/01/02", "01/02/2006"}
	}
	if c.Email.SubjectPrefix == "" {
		c.Email.SubjectPrefix = "[Weekly Report]"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "both"
	}
}

// Default returns a configuration with defaults applied and no schema.
// Callers still need to supply directories and a schema before use.
func Default() *Config {
	return &Config{
		Input: InputConfig{
			Globs: []string{"*.csv", "*.xlsx", "*.json"},
		},
		Report: ReportConfig{
			Basename:        "weekly_report",
			WriteCleanedCSV: true,
			WriteKPIJSON:    true,
		},
		Schema: SchemaConfig{
			DedupKeep:   KeepFirst,
			OnBadValue:  OnBadValueDrop,
			DateLayouts: []string{"2006-01-02", "2006/01/02", "01/02/2006"},
		},
		Email: EmailConfig{
			SubjectPrefix: "[Weekly Report]",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "both",
		},
	}
}
