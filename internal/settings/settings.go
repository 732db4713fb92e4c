package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultLogLevel matches the engine's own default.
const DefaultLogLevel = "warning"

// Settings are the persisted preferences. Zero values mean "not set".
type Settings struct {
	XrayBinary string `yaml:"xray_binary,omitempty" json:"xray_binary,omitempty"`
	AssetsDir  string `yaml:"xray_assets_folder,omitempty" json:"xray_assets_folder,omitempty"`
	LogLevel   string `yaml:"xray_log_level,omitempty" json:"xray_log_level,omitempty"`
	SOCKSPort  int    `yaml:"socks_port,omitempty" json:"socks_port,omitempty"`
	HTTPPort   int    `yaml:"http_port,omitempty" json:"http_port,omitempty"`
}

// Provider is the lookup the supervisor uses. It is called on every start so
// changed preferences apply to the next launch.
type Provider interface {
	Load() (Settings, error)
}

// Static is a Provider returning fixed settings.
type Static Settings

func (s Static) Load() (Settings, error) {
	return Settings(s), nil
}

// File is a read-only Provider backed by a YAML file owned by the
// application that stores preferences. A missing file yields defaults.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

func (f *File) Load() (Settings, error) {
	s := Settings{LogLevel: DefaultLogLevel}
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings %s: %w", f.path, err)
	}
	return s, nil
}
