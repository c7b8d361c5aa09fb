package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

type TestConfig struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func writeConfig(t *testing.T, content any) string {
	path := filepath.Join(t.TempDir(), "config.json")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create temporary file: %v", err)
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(content); err != nil {
		t.Fatalf("Failed to encode config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	validConfig := TestConfig{Name: "test", Value: 123}
	path := writeConfig(t, validConfig)

	var config TestConfig
	if err := LoadConfig(path, &config); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if config != validConfig {
		t.Errorf("Expected config to be %v, got: %v", validConfig, config)
	}
}

func TestLoadConfig_UnknownField(t *testing.T) {
	path := writeConfig(t, map[string]any{"name": "x", "valor": 1})

	var config TestConfig
	if err := LoadConfig(path, &config); err == nil {
		t.Error("Expected error for unknown field, got nil")
	}
}

func TestLoadConfig_ThrowError(t *testing.T) {
	if err := LoadConfig("nonexistent.json", &TestConfig{}); err == nil {
		t.Error("Expected error for non-existent file, got nil")
	}
}

func TestInitConfig_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for non-existent file")
		}
	}()
	InitConfig("nonexistent.json", &TestConfig{})
}
