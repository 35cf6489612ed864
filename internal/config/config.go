// Package config holds the core library's configuration surface. Unlike
// a long-running service, the core never reads its own environment or
// flags — the embedding application populates a Config in code and hands
// it to Init. Only the separate benchmark harness (cmd/perfoscope-bench)
// loads configuration from the environment.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Config describes one profile's measurement and persistence behavior.
type Config struct {
	Profile          string   `validate:"required"`
	Categories       []string `validate:"required,min=1,unique"`
	Events           []string `validate:"unique"`
	DBPath           string   `validate:"required,custom_path"`
	DBVFS            string
	WallClock        bool
	HardwareCounters bool
	Persistence      bool
	Collective       bool
}

// DefaultConfig mirrors the original library's compiled-in defaults.
var DefaultConfig = Config{
	DBPath:           "perf.db",
	DBVFS:            "unix-none",
	WallClock:        true,
	HardwareCounters: true,
	Persistence:      true,
	Collective:       true,
}

// validDirNotExists rejects empty paths, ".", the root directory, and
// paths that traverse upwards, without requiring the path to exist yet —
// the staging database file is created on first use.
func validDirNotExists(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if raw == "" {
		return false
	}
	cleaned := filepath.Clean(raw)
	if cleaned == "." || cleaned == string(filepath.Separator) {
		return false
	}
	for _, part := range strings.Split(cleaned, string(filepath.Separator)) {
		if part == ".." {
			return false
		}
	}
	return true
}

// registerValidators wires the package's custom validation tags into v.
var registerValidators = func(v *validator.Validate) error {
	return v.RegisterValidation("custom_path", validDirNotExists)
}

// Validate checks cfg against its struct tags, returning a wrapped
// validator error describing every failing field.
func Validate(cfg Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidators(v); err != nil {
		return fmt.Errorf("config: register validators: %w", err)
	}
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
