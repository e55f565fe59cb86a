package cli

import (
	"os"
	"path/filepath"
)

// Paths provides access to the app's directory structure
type Paths struct {
	// AppName is the application name
	AppName string

	// HomeDir is the user's home directory
	HomeDir string
}

// NewPaths creates a new Paths instance for the given app
func NewPaths(appName string) (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Paths{
		AppName: appName,
		HomeDir: home,
	}, nil
}

// BaseDir returns the base directory (~/.haivivi)
func (p *Paths) BaseDir() string {
	return filepath.Join(p.HomeDir, DefaultBaseDir)
}

// AppDir returns the app-specific directory (~/.haivivi/<app>)
func (p *Paths) AppDir() string {
	return filepath.Join(p.BaseDir(), p.AppName)
}

// ConfigFile returns the config file path (~/.haivivi/<app>/config.yaml)
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.AppDir(), DefaultConfigFile)
}

// DataDir returns the data directory of a context (~/.haivivi/<app>/data/<context>).
// It holds the preferences store.
func (p *Paths) DataDir(context string) string {
	return filepath.Join(p.AppDir(), "data", context)
}

// GalleryDir returns the default image archive of a context
// (~/.haivivi/<app>/gallery/<context>).
func (p *Paths) GalleryDir(context string) string {
	return filepath.Join(p.AppDir(), "gallery", context)
}

// Ensure creates dir if it doesn't exist and returns it.
func Ensure(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
