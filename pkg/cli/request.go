package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Preset is a session request file: the configuration of a new
// conversation and, optionally, messages to send in order.
//
//	model: gemini-2.5-pro
//	system: You are a terse assistant.
//	search: true
//	messages:
//	  - play something by Miles Davis
type Preset struct {
	Model    string   `yaml:"model" json:"model"`
	System   string   `yaml:"system" json:"system"`
	Search   *bool    `yaml:"search" json:"search"`
	Messages []string `yaml:"messages" json:"messages"`
}

// LoadPreset loads a preset from a YAML or JSON file. "-" reads stdin.
func LoadPreset(path string) (*Preset, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read preset: %w", err)
	}
	return ParsePreset(data, path)
}

// ParsePreset parses preset data based on file extension or content
func ParsePreset(data []byte, filename string) (*Preset, error) {
	var p Preset
	if err := parseRequest(data, filename, &p); err != nil {
		return nil, err
	}
	for i, m := range p.Messages {
		if strings.TrimSpace(m) == "" {
			return nil, fmt.Errorf("preset message %d is empty", i+1)
		}
	}
	return &p, nil
}

func parseRequest(data []byte, filename string, v any) error {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		// JSON is a subset of YAML, try it first for better errors
		if err := json.Unmarshal(data, v); err != nil {
			if err2 := yaml.Unmarshal(data, v); err2 != nil {
				return errors.New("failed to parse preset (tried JSON and YAML)")
			}
		}
	}
	return nil
}
