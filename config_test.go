// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleConfig = `
server: ws://localhost:10000/
username: alice
desktop:
  width: 1920
  height: 1080
  dpi: 110
encodings: [png, jpeg, rgb32, scroll]
audio:
  codec: opus
swap_keys: true
auto_map: false
ping_interval: 5s
connect_timeout: 20
log_level: debug
metrics:
  listen: 127.0.0.1:9102
`

func TestConfig_Parse(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:10000/", cfg.Server)
	assert.Equal(t, "alice", cfg.Username)
	assert.Equal(t, DesktopConfig{Width: 1920, Height: 1080, DPI: 110}, cfg.Desktop)
	assert.Equal(t, []string{"png", "jpeg", "rgb32", "scroll"}, cfg.Encodings)
	assert.Equal(t, "opus", cfg.Audio.Codec)
	assert.Equal(t, Duration(5*time.Second), cfg.PingInterval)
	assert.Equal(t, Duration(20*time.Second), cfg.ConnectTimeout, "bare numbers are seconds")
	assert.Equal(t, "127.0.0.1:9102", cfg.Metrics.Listen)
	require.NotNil(t, cfg.AutoMap)
	assert.False(t, *cfg.AutoMap)
}

func TestConfig_Options(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	client := defaultClientConfig()
	for _, opt := range cfg.Options() {
		opt(client)
	}

	assert.Equal(t, "alice", client.Username)
	assert.Equal(t, 1920, client.DesktopWidth)
	assert.Equal(t, 1080, client.DesktopHeight)
	assert.Equal(t, 110, client.DPI)
	assert.True(t, client.SwapKeys)
	assert.False(t, client.AutoMap)
	assert.Equal(t, []string{"png", "jpeg", "rgb32", "scroll"}, client.Encodings)
	assert.Equal(t, "opus", client.PreferredAudioCodec)
	assert.Equal(t, 5*time.Second, client.PingInterval)
	assert.Equal(t, 20*time.Second, client.ConnectTimeout)
	assert.Nil(t, client.Password, "options never carry the password")
}

func TestConfig_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{"unknown key", "server: ws://localhost/\ncolour: blue\n"},
		{"bad scheme", "server: tcp://localhost:10000/\n"},
		{"bad size", "desktop:\n  width: 0\n  height: 100\n"},
		{"negative dpi", "desktop:\n  dpi: -1\n"},
		{"both passwords", "password: a\npassword_file: /tmp/pw\n"},
		{"unknown encoding", "encodings: [png, tight]\n"},
		{"bad duration", "ping_interval: soon\n"},
		{"negative duration", "ping_interval: -5s\n"},
		{"bad level", "log_level: loud\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.config))
			require.Error(t, err)
			assert.True(t, IsXpraError(err, ErrConfiguration), "got %v", err)
		})
	}
}

func TestConfig_ReadPassword(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "password")
	require.NoError(t, os.WriteFile(path, []byte("secret\n"), 0o600))

	cfg := &FileConfig{PasswordFile: path}
	password, err := cfg.ReadPassword()
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), password)

	cfg = &FileConfig{Password: "inline"}
	password, err = cfg.ReadPassword()
	require.NoError(t, err)
	assert.Equal(t, []byte("inline"), password)

	cfg = &FileConfig{}
	password, err = cfg.ReadPassword()
	require.NoError(t, err)
	assert.Nil(t, password)

	cfg = &FileConfig{PasswordFile: filepath.Join(dir, "missing")}
	_, err = cfg.ReadPassword()
	assert.True(t, IsXpraError(err, ErrConfiguration))
}

func TestConfig_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xpra.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Username)

	_, err = LoadConfig(path + ".missing")
	assert.True(t, IsXpraError(err, ErrConfiguration))
}

func TestDuration_MarshalYAML(t *testing.T) {
	out, err := yaml.Marshal(struct {
		D Duration `yaml:"d"`
	}{Duration(1500 * time.Millisecond)})
	require.NoError(t, err)
	assert.Equal(t, "d: 1.5s\n", string(out))
}
