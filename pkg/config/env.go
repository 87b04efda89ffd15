package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment-file keys understood by LoadEnv
const (
	EnvSearch  = "SEARCH" // Whitespace-separated patterns
	EnvMode    = "MODE"
	EnvOutput  = "OUTPUT"
	EnvDelay   = "DELAY"   // Seconds, may be fractional
	EnvVerbose = "VERBOSE" // "true" enables verbose output
	EnvWorkers = "WORKERS"
)

// LoadEnv reads a dotenv file and overlays its non-blank values onto cfg.
// A missing file is not an error; it returns false so callers can log which files were applied.
func LoadEnv(path string, cfg *AppConfig) (bool, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read env file '%s': %w", path, err)
	}
	return true, ApplyEnv(values, cfg)
}

// ApplyEnv overlays dotenv-style values onto cfg, ignoring keys whose value is blank
func ApplyEnv(values map[string]string, cfg *AppConfig) error {
	get := func(key string) (string, bool) {
		v, ok := values[key]
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvSearch); ok {
		cfg.Search = strings.Fields(v)
	}
	if v, ok := get(EnvMode); ok {
		cfg.Mode = v
	}
	if v, ok := get(EnvOutput); ok {
		cfg.OutputDir = v
	}
	if v, ok := get(EnvDelay); ok {
		d, err := ParseSeconds(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidEnv, EnvDelay, v, err)
		}
		cfg.Delay = d
	}
	if v, ok := get(EnvVerbose); ok {
		cfg.Verbose = strings.EqualFold(v, "true")
	}
	if v, ok := get(EnvWorkers); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidEnv, EnvWorkers, v, err)
		}
		cfg.Workers = n
	}
	return nil
}

// ErrInvalidEnv marks an env value that could not be converted to its field type
var ErrInvalidEnv = errors.New("invalid environment value")

// ParseSeconds converts a decimal number of seconds ("1", "0.25") into a duration
func ParseSeconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(f * float64(time.Second)), nil
}
