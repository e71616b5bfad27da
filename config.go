// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML form of a client configuration.
//
// Example:
//
//	server: ws://localhost:10000/
//	username: alice
//	password_file: ~/.xpra-password
//	desktop:
//	  width: 1920
//	  height: 1080
//	  dpi: 96
//	encodings: [png, jpeg, rgb32, scroll]
//	audio:
//	  codec: opus
//	ping_interval: 5s
//	connect_timeout: 20s
//	log_level: info
//	metrics:
//	  listen: 127.0.0.1:9102
//	  namespace: xpra
type FileConfig struct {
	Server       string   `yaml:"server"`
	Username     string   `yaml:"username,omitempty"`
	Password     string   `yaml:"password,omitempty"`
	PasswordFile string   `yaml:"password_file,omitempty"`
	UUID         string   `yaml:"uuid,omitempty"`
	SwapKeys     bool     `yaml:"swap_keys,omitempty"`
	AutoMap      *bool    `yaml:"auto_map,omitempty"`
	Encodings    []string `yaml:"encodings,omitempty"`

	Desktop DesktopConfig   `yaml:"desktop"`
	Audio   AudioConfig     `yaml:"audio"`
	Metrics MetricsEndpoint `yaml:"metrics"`

	PingInterval   Duration `yaml:"ping_interval,omitempty"`
	ConnectTimeout Duration `yaml:"connect_timeout,omitempty"`
	LogLevel       string   `yaml:"log_level,omitempty"`
}

// DesktopConfig describes the local desktop.
type DesktopConfig struct {
	Width  int `yaml:"width,omitempty"`
	Height int `yaml:"height,omitempty"`
	DPI    int `yaml:"dpi,omitempty"`
}

// AudioConfig selects the preferred audio codec.
type AudioConfig struct {
	Codec string `yaml:"codec,omitempty"`
}

// MetricsEndpoint configures the Prometheus endpoint of the command line
// client.
type MetricsEndpoint struct {
	Listen    string `yaml:"listen,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

// Duration is a time.Duration written as "5s" or "250ms" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a duration string or a plain number of seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if parsed, err := time.ParseDuration(s); err == nil {
		*d = Duration(parsed)
		return nil
	}
	var secs int
	if err := node.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// MarshalYAML writes the duration in time.Duration notation.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configurationError("LoadConfig", "failed to read "+path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a YAML configuration. Unknown keys are
// rejected.
func ParseConfig(data []byte) (*FileConfig, error) {
	cfg := &FileConfig{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, configurationError("ParseConfig", "invalid configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the client would reject.
func (c *FileConfig) Validate() error {
	v := newInputValidator()
	if c.Server != "" {
		if err := v.ValidateURI(c.Server); err != nil {
			return configurationError("FileConfig.Validate", "invalid server", err)
		}
	}
	if c.Desktop.Width != 0 || c.Desktop.Height != 0 {
		if err := v.ValidateGeometry(Geometry{Width: c.Desktop.Width, Height: c.Desktop.Height}); err != nil {
			return configurationError("FileConfig.Validate", "invalid desktop size", err)
		}
	}
	if c.Desktop.DPI < 0 {
		return configurationError("FileConfig.Validate", "dpi must not be negative", nil)
	}
	if c.Password != "" && c.PasswordFile != "" {
		return configurationError("FileConfig.Validate", "password and password_file are exclusive", nil)
	}
	for _, enc := range c.Encodings {
		if encodingKindOf(enc) == kindUnknown {
			return configurationError("FileConfig.Validate", fmt.Sprintf("unknown encoding %q", enc), nil)
		}
	}
	if c.PingInterval < 0 || c.ConnectTimeout < 0 {
		return configurationError("FileConfig.Validate", "durations must not be negative", nil)
	}
	if c.LogLevel != "" {
		if _, err := ParseLevel(c.LogLevel); err != nil {
			return configurationError("FileConfig.Validate", "invalid log_level", err)
		}
	}
	return nil
}

// ReadPassword returns the configured password, reading PasswordFile when
// set. Trailing newlines are removed.
func (c *FileConfig) ReadPassword() ([]byte, error) {
	if c.PasswordFile == "" {
		if c.Password == "" {
			return nil, nil
		}
		return []byte(c.Password), nil
	}
	path := c.PasswordFile
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, configurationError("FileConfig.ReadPassword", "cannot resolve home directory", err)
		}
		path = home + path[1:]
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configurationError("FileConfig.ReadPassword", "failed to read password file", err)
	}
	return bytes.TrimRight(data, "\r\n"), nil
}

// Options converts the configuration into client options. The password is
// not included, see ReadPassword.
func (c *FileConfig) Options() []ClientOption {
	var opts []ClientOption
	if c.Username != "" {
		opts = append(opts, WithUsername(c.Username))
	}
	if c.UUID != "" {
		opts = append(opts, WithUUID(c.UUID))
	}
	if c.Desktop.Width > 0 && c.Desktop.Height > 0 {
		opts = append(opts, WithDesktopSize(c.Desktop.Width, c.Desktop.Height))
	}
	if c.Desktop.DPI > 0 {
		opts = append(opts, WithDPI(c.Desktop.DPI))
	}
	if c.SwapKeys {
		opts = append(opts, WithSwapKeys(true))
	}
	if c.AutoMap != nil {
		opts = append(opts, WithAutoMap(*c.AutoMap))
	}
	if len(c.Encodings) > 0 {
		opts = append(opts, WithEncodings(c.Encodings...))
	}
	if c.Audio.Codec != "" {
		opts = append(opts, WithPreferredAudioCodec(c.Audio.Codec))
	}
	if c.PingInterval > 0 {
		opts = append(opts, WithPingInterval(time.Duration(c.PingInterval)))
	}
	if c.ConnectTimeout > 0 {
		opts = append(opts, WithConnectTimeout(time.Duration(c.ConnectTimeout)))
	}
	return opts
}
