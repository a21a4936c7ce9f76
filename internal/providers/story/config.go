// Package story turns a seed into a five-page noir script through the Gemini
// SDK. Everything that differs between story flavours lives in Config, so
// there is one generation path for all of them.
package story

import (
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPreset is used when no preset is configured.
const DefaultPreset = "tech-noir"

//go:embed presets/*.yaml
var presetFiles embed.FS

// Config parameterizes story generation.
type Config struct {
	Name              string   `yaml:"name"`
	Model             string   `yaml:"model"`
	SystemInstruction string   `yaml:"system_instruction"`
	Genre             string   `yaml:"genre"`
	Tone              string   `yaml:"tone"`
	StyleTokens       []string `yaml:"style_tokens"`
	Temperature       float32  `yaml:"temperature"`
}

// ParseConfig decodes a YAML story configuration.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("story: parse config: %w", err)
	}
	cfg.SystemInstruction = strings.TrimSpace(cfg.SystemInstruction)
	if cfg.SystemInstruction == "" {
		return Config{}, errors.New("story: config requires system_instruction")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.8
	}
	return cfg, nil
}

// LoadPreset returns an embedded configuration by name.
func LoadPreset(name string) (Config, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultPreset
	}
	data, err := presetFiles.ReadFile(path.Join("presets", name+".yaml"))
	if err != nil {
		return Config{}, fmt.Errorf("story: unknown preset %q (have %s)", name, strings.Join(Presets(), ", "))
	}
	return ParseConfig(data)
}

// Presets lists the embedded preset names.
func Presets() []string {
	entries, err := presetFiles.ReadDir("presets")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}
