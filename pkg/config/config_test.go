package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_DirectoryConfig(t *testing.T) {
	// Setup environment variables
	os.Setenv("CLINIC_DATASET_PATH", "/tmp/clinics.csv")
	os.Setenv("DIRECTORY_DEFAULT_RADIUS_M", "3000")
	defer func() {
		os.Unsetenv("CLINIC_DATASET_PATH")
		os.Unsetenv("DIRECTORY_DEFAULT_RADIUS_M")
	}()

	// Load config
	cfg, err := Load()
	assert.NoError(t, err)

	// Verify directory config
	assert.Equal(t, "/tmp/clinics.csv", cfg.Directory.DatasetPath)
	assert.Equal(t, 3000, cfg.Directory.DefaultRadiusM)
}

func TestLoad_Defaults(t *testing.T) {
	// Ensure env vars are cleared
	os.Unsetenv("CLINIC_DATASET_PATH")
	os.Unsetenv("DIRECTORY_DEFAULT_RADIUS_M")
	os.Unsetenv("SESSION_TTL_SECONDS")
	os.Unsetenv("GEMINI_MODEL")

	cfg, err := Load()
	assert.NoError(t, err)

	// Verify defaults
	assert.Equal(t, "data/clinics.csv", cfg.Directory.DatasetPath)
	assert.Equal(t, 2000, cfg.Directory.DefaultRadiusM)
	assert.Equal(t, 5, cfg.Directory.DefaultResults)
	assert.Equal(t, 1800, cfg.Session.TTLSeconds)
	assert.Equal(t, "gemini-2.5-flash", cfg.Gemini.Model)
	assert.Equal(t, "static", cfg.Geolocation.Provider)
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	os.Setenv("DIRECTORY_MAX_RESULTS", "many")
	defer os.Unsetenv("DIRECTORY_MAX_RESULTS")

	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, 20, cfg.Directory.MaxResults)
}
