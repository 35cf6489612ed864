package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	cfg := DefaultConfig
	cfg.Profile = "training-loop"
	cfg.Categories = []string{"forward", "backward"}
	cfg.Events = []string{"PAPI_TOT_CYC"}
	return cfg
}

func TestValidateAcceptsDefaultConfig(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidateRejectsMissingProfile(t *testing.T) {
	cfg := validConfig()
	cfg.Profile = ""
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsEmptyCategories(t *testing.T) {
	cfg := validConfig()
	cfg.Categories = nil
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsDuplicateCategories(t *testing.T) {
	cfg := validConfig()
	cfg.Categories = []string{"forward", "forward"}
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsDuplicateEvents(t *testing.T) {
	cfg := validConfig()
	cfg.Events = []string{"PAPI_TOT_CYC", "PAPI_TOT_CYC"}
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsBadDBPath(t *testing.T) {
	cfg := validConfig()
	cfg.DBPath = ".."
	assert.Error(t, Validate(cfg))
}
