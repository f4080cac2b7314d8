package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	KeyOpenAIModel    = "openaiModel"
	KeyOpenAIBaseURL  = "openaiBaseURL"
	KeyGeminiModel    = "geminiModel"
	KeyGeminiEndpoint = "geminiEndpoint"
	KeyHTTPTimeout    = "httpTimeout"
	KeyStateDB        = "stateDB"
)

type Config struct {
	values map[string]any
}

// Load reads the YAML file at path. A missing file yields an empty Config,
// so every key falls back to its default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Config{values: map[string]any{}}, nil
	}
	if err != nil {
		return nil, err
	}
	values := make(map[string]any)
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	return &Config{values: values}, nil
}

// GetString returns a string-typed parameter. If nothing is found, or if the
// value is not a string, returns an empty value.
func (c *Config) GetString(key string) string {
	str, _ := c.values[key].(string)
	return str
}

func (c *Config) GetStringOrDefault(key, defaultValue string) string {
	if value := c.GetString(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) GetIntOrDefault(key string, defaultValue int) int {
	intValue, ok := c.values[key].(int)
	if !ok {
		return defaultValue
	}
	return intValue
}

// GetDurationOrDefault reads an integer number of milliseconds. Negative or
// non-integer values return defaultValue.
func (c *Config) GetDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	intValue := c.GetIntOrDefault(key, -1)
	if intValue < 0 {
		return defaultValue
	}
	return time.Duration(intValue) * time.Millisecond
}
