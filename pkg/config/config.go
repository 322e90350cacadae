// Package config loads and stores the deet configuration file.
package config

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v2"
)

const (
	configDirHidden string = ".deet"
	configDir       string = "deet"
	configFile      string = "config.yml"
	historyFile     string = ".deet_history"

	// DefaultMaxBacktraceDepth bounds backtraces of corrupted stacks.
	DefaultMaxBacktraceDepth = 64
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// DisableASLR launches the inferior with address space randomization
	// turned off. Addresses resolved from the binary are only valid when
	// this is set. Defaults to true.
	DisableASLR *bool `yaml:"disable-aslr,omitempty"`

	// MaxBacktraceDepth is the maximum number of frames printed by backtrace.
	MaxBacktraceDepth int `yaml:"max-backtrace-depth,omitempty"`

	// Source line-number color (3/4 bit color codes as defined
	// here: https://en.wikipedia.org/wiki/ANSI_escape_code#Colors)
	SourceListLineColor int `yaml:"source-list-line-color"`
}

// ASLRDisabled reports whether the inferior should run without ASLR.
func (c *Config) ASLRDisabled() bool {
	if c == nil || c.DisableASLR == nil {
		return true
	}
	return *c.DisableASLR
}

// BacktraceDepth returns the configured backtrace limit or the default one.
func (c *Config) BacktraceDepth() int {
	if c == nil || c.MaxBacktraceDepth <= 0 {
		return DefaultMaxBacktraceDepth
	}
	return c.MaxBacktraceDepth
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer f.Close()

	return decode(f)
}

func decode(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

// HistoryFilePath returns the path of the command history file.
func HistoryFilePath() (string, error) {
	return GetConfigFilePath(historyFile)
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f io.Writer) error {
	_, err := io.WriteString(f,
		`# Configuration file for the deet debugger.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Uncomment the following line and set your preferred ANSI foreground color
# for source line numbers (if unset, default is 34, dark blue)
# See https://en.wikipedia.org/wiki/ANSI_escape_code#3/4_bit
# source-list-line-color: 34

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Breakpoint addresses are computed from the binary, they only match the
# running program when address space randomization is disabled.
# disable-aslr: true

# Maximum number of frames printed by the backtrace command.
# max-backtrace-depth: 64
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if configPath := os.Getenv("DEET_CONFIG_DIR"); configPath != "" {
		return filepath.Join(configPath, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	if runtime.GOOS == "linux" {
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			// Keep using an existing ~/.deet instead of migrating it.
			if _, err := os.Stat(filepath.Join(userHomeDir, configDirHidden)); err != nil {
				return filepath.Join(xdg, configDir, file), nil
			}
		}
	}
	return filepath.Join(userHomeDir, configDirHidden, file), nil
}
