package config

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes environment overrides, e.g. IOSM_DECISION_STOP_THRESHOLD.
	EnvPrefix = "IOSM_"

	// DefaultPath is used when no configuration path is given.
	DefaultPath = "iosm.yaml"
)

// sections lists the document sections that environment variables may address.
// Longer names come first so "quality_gates" wins over a hypothetical "quality".
var sections = func() []string {
	s := []string{
		"planning", "quality_gates", "index_weights", "decision", "retry",
		"backlog", "executors", "history", "git", "logging", "telemetry",
		"server", "nats", "temporal",
	}
	sort.Slice(s, func(i, j int) bool { return len(s[i]) > len(s[j]) })
	return s
}()

// Load reads the YAML document at path, then applies IOSM_* environment overrides.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (IOSM_DECISION_STOP_THRESHOLD, IOSM_SERVER_PORT, ...)
//  2. The YAML document
//  3. Defaults from Default()
//
// Files larger than 1MB and non-regular files are rejected.
//
// # Environment Variable Mapping
//
// The prefix is stripped, the remainder lowercased, and the first known section
// name becomes the first key segment:
//
//	IOSM_DECISION_STOP_THRESHOLD -> decision.stop_threshold
//	IOSM_PLANNING_USE_ECONOMIC_DECISION -> planning.use_economic_decision
//	IOSM_SYSTEM -> system
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse builds a Config from YAML content and the process environment.
func Parse(content []byte) (*Config, error) {
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config too large: %d bytes (max %d)", len(content), maxConfigFileSize)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps IOSM_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range sections {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

// validateConfigFileProperties checks the file type and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", info.Name())
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
