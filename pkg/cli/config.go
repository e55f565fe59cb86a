package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

const (
	// DefaultBaseDir is the base configuration directory name
	DefaultBaseDir = ".haivivi"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.yaml"
)

// Config represents the main configuration structure for a CLI app
type Config struct {
	// AppName is the application name (e.g., "gizchat")
	AppName string `yaml:"-" json:"-"`

	// CurrentContext is the name of the currently active context
	CurrentContext string `yaml:"current_context,omitempty" json:"current_context,omitempty"`

	// Contexts is a map of context name to context configuration
	Contexts map[string]*Context `yaml:"contexts,omitempty" json:"contexts,omitempty"`

	configPath string
}

// Context is one named environment: credentials, default model and the
// local devices used for speech.
type Context struct {
	Name string `yaml:"name" json:"name"`

	Gemini *GeminiConfig `yaml:"gemini,omitempty" json:"gemini,omitempty"`
	OpenAI *OpenAIConfig `yaml:"openai,omitempty" json:"openai,omitempty"`

	// Model is the initial model of new conversations.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// ImageModel overrides the model used by generate_image.
	ImageModel string `yaml:"image_model,omitempty" json:"image_model,omitempty"`

	// SystemInstruction is sent with every new conversation.
	SystemInstruction string `yaml:"system_instruction,omitempty" json:"system_instruction,omitempty"`

	Gallery *GalleryConfig `yaml:"gallery,omitempty" json:"gallery,omitempty"`
	Audio   *AudioConfig   `yaml:"audio,omitempty" json:"audio,omitempty"`

	// Timeout bounds one send in seconds (0 means no limit).
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// GeminiConfig selects the Gemini API or Vertex AI.
type GeminiConfig struct {
	// APIKey may be "$NAME" to read the environment variable NAME.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	// Backend is "gemini" (default) or "vertex".
	Backend  string `yaml:"backend,omitempty" json:"backend,omitempty"`
	Project  string `yaml:"project,omitempty" json:"project,omitempty"`
	Location string `yaml:"location,omitempty" json:"location,omitempty"`
}

type OpenAIConfig struct {
	// APIKey may be "$NAME" to read the environment variable NAME.
	APIKey  string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
}

// GalleryConfig archives generated images in Dir, or in an S3 bucket when
// Bucket is set.
type GalleryConfig struct {
	Dir       string `yaml:"dir,omitempty" json:"dir,omitempty"`
	Bucket    string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix    string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Region    string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	PublicURL string `yaml:"public_url,omitempty" json:"public_url,omitempty"`
}

// AudioConfig names the external commands that play and record raw PCM.
type AudioConfig struct {
	Player       string `yaml:"player,omitempty" json:"player,omitempty"`
	PlayerRate   int    `yaml:"player_rate,omitempty" json:"player_rate,omitempty"`
	PlayerStereo bool   `yaml:"player_stereo,omitempty" json:"player_stereo,omitempty"`
	Mic          string `yaml:"mic,omitempty" json:"mic,omitempty"`
	MicRate      int    `yaml:"mic_rate,omitempty" json:"mic_rate,omitempty"`
	Voice        string `yaml:"voice,omitempty" json:"voice,omitempty"`
	SpeechModel  string `yaml:"speech_model,omitempty" json:"speech_model,omitempty"`
	LiveModel    string `yaml:"live_model,omitempty" json:"live_model,omitempty"`
}

// LoadConfig loads or creates configuration for the specified app
func LoadConfig(appName string) (*Config, error) {
	return LoadConfigWithPath(appName, "")
}

// LoadConfigWithPath loads configuration from a custom path
func LoadConfigWithPath(appName, customPath string) (*Config, error) {
	configPath := customPath
	if configPath == "" {
		paths, err := NewPaths(appName)
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = paths.ConfigFile()
	}

	cfg := &Config{
		AppName:    appName,
		Contexts:   make(map[string]*Context),
		configPath: configPath,
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]*Context)
	}
	for name, ctx := range cfg.Contexts {
		if ctx == nil {
			cfg.Contexts[name] = &Context{Name: name}
			continue
		}
		ctx.Name = name
	}
	cfg.AppName = appName
	cfg.configPath = configPath
	return cfg, nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	if err := os.MkdirAll(c.Dir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(c.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Path returns the config file path
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the config directory path
func (c *Config) Dir() string {
	return filepath.Dir(c.configPath)
}

// AddContext adds or replaces a context
func (c *Config) AddContext(name string, ctx *Context) error {
	if name == "" {
		return fmt.Errorf("context name cannot be empty")
	}
	ctx.Name = name
	c.Contexts[name] = ctx
	if c.CurrentContext == "" {
		c.CurrentContext = name
	}
	return c.Save()
}

// DeleteContext removes a context
func (c *Config) DeleteContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return c.Save()
}

// UseContext sets the current context
func (c *Config) UseContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	c.CurrentContext = name
	return c.Save()
}

// GetContext returns a specific context
func (c *Config) GetContext(name string) (*Context, error) {
	ctx, ok := c.Contexts[name]
	if !ok {
		return nil, fmt.Errorf("context %q not found", name)
	}
	return ctx, nil
}

// GetCurrentContext returns the current context
func (c *Config) GetCurrentContext() (*Context, error) {
	if c.CurrentContext == "" {
		return nil, fmt.Errorf("no current context set")
	}
	return c.GetContext(c.CurrentContext)
}

// ResolveContext returns the context by name, or current context if name is empty
func (c *Config) ResolveContext(name string) (*Context, error) {
	if name == "" {
		return c.GetCurrentContext()
	}
	return c.GetContext(name)
}

// ListContexts returns all context names, sorted
func (c *Config) ListContexts() []string {
	names := make([]string, 0, len(c.Contexts))
	for name := range c.Contexts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Keys lists the settings accepted by Context.Set.
func Keys() []string {
	return []string{
		"model", "image_model", "system_instruction", "timeout",
		"gemini.api_key", "gemini.backend", "gemini.project", "gemini.location",
		"openai.api_key", "openai.base_url",
		"gallery.dir", "gallery.bucket", "gallery.prefix", "gallery.region",
		"gallery.endpoint", "gallery.public_url",
		"audio.player", "audio.player_rate", "audio.player_stereo",
		"audio.mic", "audio.mic_rate", "audio.voice",
		"audio.speech_model", "audio.live_model",
	}
}

// Set assigns one dotted setting, e.g. "gemini.api_key". An empty value
// clears it.
func (ctx *Context) Set(key, value string) error {
	section, field, nested := strings.Cut(key, ".")
	if !nested {
		switch key {
		case "model":
			ctx.Model = value
		case "image_model":
			ctx.ImageModel = value
		case "system_instruction":
			ctx.SystemInstruction = value
		case "timeout":
			return setInt(&ctx.Timeout, key, value)
		default:
			return fmt.Errorf("unknown setting %q", key)
		}
		return nil
	}

	switch section {
	case "gemini":
		if ctx.Gemini == nil {
			ctx.Gemini = &GeminiConfig{}
		}
		g := ctx.Gemini
		switch field {
		case "api_key":
			g.APIKey = value
		case "backend":
			if value != "" && value != "gemini" && value != "vertex" {
				return fmt.Errorf("gemini.backend must be gemini or vertex, got %q", value)
			}
			g.Backend = value
		case "project":
			g.Project = value
		case "location":
			g.Location = value
		default:
			return fmt.Errorf("unknown setting %q", key)
		}
	case "openai":
		if ctx.OpenAI == nil {
			ctx.OpenAI = &OpenAIConfig{}
		}
		switch field {
		case "api_key":
			ctx.OpenAI.APIKey = value
		case "base_url":
			ctx.OpenAI.BaseURL = value
		default:
			return fmt.Errorf("unknown setting %q", key)
		}
	case "gallery":
		if ctx.Gallery == nil {
			ctx.Gallery = &GalleryConfig{}
		}
		g := ctx.Gallery
		switch field {
		case "dir":
			g.Dir = value
		case "bucket":
			g.Bucket = value
		case "prefix":
			g.Prefix = value
		case "region":
			g.Region = value
		case "endpoint":
			g.Endpoint = value
		case "public_url":
			g.PublicURL = value
		default:
			return fmt.Errorf("unknown setting %q", key)
		}
	case "audio":
		if ctx.Audio == nil {
			ctx.Audio = &AudioConfig{}
		}
		a := ctx.Audio
		switch field {
		case "player":
			a.Player = value
		case "player_rate":
			return setInt(&a.PlayerRate, key, value)
		case "player_stereo":
			if value == "" {
				a.PlayerStereo = false
				return nil
			}
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			a.PlayerStereo = b
		case "mic":
			a.Mic = value
		case "mic_rate":
			return setInt(&a.MicRate, key, value)
		case "voice":
			a.Voice = value
		case "speech_model":
			a.SpeechModel = value
		case "live_model":
			a.LiveModel = value
		default:
			return fmt.Errorf("unknown setting %q", key)
		}
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

func setInt(dst *int, key, value string) error {
	if value == "" {
		*dst = 0
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("%s must be a non-negative integer, got %q", key, value)
	}
	*dst = n
	return nil
}

// Secret resolves a credential. "$NAME" reads the environment variable
// NAME; any other value is returned as is.
func Secret(v string) string {
	if name, ok := strings.CutPrefix(v, "$"); ok && name != "" {
		return os.Getenv(name)
	}
	return v
}

// MaskAPIKey masks the API key for display
func MaskAPIKey(key string) string {
	if strings.HasPrefix(key, "$") {
		return key
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// Masked returns a copy of the context with credentials masked.
func (ctx *Context) Masked() *Context {
	out := *ctx
	if ctx.Gemini != nil {
		g := *ctx.Gemini
		g.APIKey = MaskAPIKey(g.APIKey)
		out.Gemini = &g
	}
	if ctx.OpenAI != nil {
		o := *ctx.OpenAI
		o.APIKey = MaskAPIKey(o.APIKey)
		out.OpenAI = &o
	}
	return &out
}
