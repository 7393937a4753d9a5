package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Environment variables holding the three mandatory directories.
const (
	EnvDailySourceDir = "MARC_DAILY_SOURCE_DIR"
	EnvFullSourceDir  = "MARC_FULL_SOURCE_DIR"
	EnvFullOutputDir  = "MARC_FULL_OUTPUT_DIR"
)

const (
	// Default number of processed archives between progress notices.
	DefaultProgressInterval = 3

	DefaultDbPath     = "./marcreport_state.duckdb"
	DefaultReportPath = "./bookplates.parquet"
)

var (
	// Archives are processed one at a time unless asked otherwise.
	DefaultNumWorkers = 1
)

// Config holds application settings
type Config struct {
	DailySourceDir   string `toml:"daily_source_dir"`
	FullSourceDir    string `toml:"full_source_dir"`
	FullOutputDir    string `toml:"full_output_dir"`
	DbPath           string `toml:"db_path"`
	ReportPath       string `toml:"report_path"`
	NumWorkers       int    `toml:"workers"`
	MaxItems         int    `toml:"max_items"`         // 0 processes every archive
	ProgressInterval int    `toml:"progress_interval"` // 0 disables progress notices
	RemoveExtracted  bool   `toml:"remove_extracted"`
	StopOnError      bool   `toml:"stop_on_error"`

	// FieldProbes name extra subfields logged at debug level for every
	// record, written as tag plus code ("245a" or "245$a").
	FieldProbes []string `toml:"field_probes"`
}

// ErrMissingSetting is wrapped by Validate for every absent mandatory value.
var ErrMissingSetting = errors.New("missing required setting")

// Default returns a Config with every optional value populated.
func Default() Config {
	return Config{
		DbPath:           DefaultDbPath,
		ReportPath:       DefaultReportPath,
		NumWorkers:       DefaultNumWorkers,
		ProgressInterval: DefaultProgressInterval,
	}
}

// ApplyEnv fills empty directory settings from the process environment.
func (c *Config) ApplyEnv() {
	fill := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	fill(&c.DailySourceDir, EnvDailySourceDir)
	fill(&c.FullSourceDir, EnvFullSourceDir)
	fill(&c.FullOutputDir, EnvFullOutputDir)
}

// Validate checks the mandatory directories and numeric bounds. All problems
// are reported together.
func (c Config) Validate() error {
	var errs []error
	required := []struct {
		value string
		env   string
	}{
		{c.DailySourceDir, EnvDailySourceDir},
		{c.FullSourceDir, EnvFullSourceDir},
		{c.FullOutputDir, EnvFullOutputDir},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%w: %s could not be retrieved", ErrMissingSetting, r.env))
		}
	}
	if c.NumWorkers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.NumWorkers))
	}
	if c.MaxItems < 0 {
		errs = append(errs, fmt.Errorf("max items must not be negative, got %d", c.MaxItems))
	}
	if c.ProgressInterval < 0 {
		errs = append(errs, fmt.Errorf("progress interval must not be negative, got %d", c.ProgressInterval))
	}
	for _, probe := range c.FieldProbes {
		if _, _, ok := SplitFieldProbe(probe); !ok {
			errs = append(errs, fmt.Errorf("invalid field probe %q, want a tag and subfield code such as 245a", probe))
		}
	}
	return errors.Join(errs...)
}

// SplitFieldProbe splits "245a" or "245$a" into its tag and subfield code.
func SplitFieldProbe(s string) (tag, code string, ok bool) {
	s = strings.TrimSpace(s)
	if len(s) < 4 {
		return "", "", false
	}
	tag, code = s[:3], strings.TrimPrefix(s[3:], "$")
	if len(code) != 1 {
		return "", "", false
	}
	for i := 0; i < len(tag); i++ {
		if !isAlnum(tag[i]) {
			return "", "", false
		}
	}
	if !isAlnum(code[0]) {
		return "", "", false
	}
	return tag, code, true
}

func isAlnum(b byte) bool {
	return ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}
