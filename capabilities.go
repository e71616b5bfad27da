// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"math"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// Version is reported to the server in the hello capabilities.
const Version = "4.0"

// Capabilities is an ordered, read-only capability mapping. The local set is
// built once by BuildCapabilities; the remote set is parsed once from the
// server's hello.
type Capabilities struct {
	keys   []string
	values map[string]interface{}
}

func newCapabilities() *Capabilities {
	return &Capabilities{values: make(map[string]interface{})}
}

func (c *Capabilities) set(key string, value interface{}) {
	if _, exists := c.values[key]; !exists {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
}

// CapabilitiesFromMap wraps a decoded capability mapping. Keys are ordered
// lexically since wire maps carry no order.
func CapabilitiesFromMap(m map[string]interface{}) *Capabilities {
	c := newCapabilities()
	for _, k := range sortedKeys(m) {
		c.set(k, m[k])
	}
	return c
}

// Keys returns the capability names in order.
func (c *Capabilities) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Len returns the number of capabilities.
func (c *Capabilities) Len() int {
	return len(c.keys)
}

// Get returns the raw value of key.
func (c *Capabilities) Get(key string) (interface{}, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Has reports whether key is present.
func (c *Capabilities) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// Bool returns key as a boolean; absent keys are false.
func (c *Capabilities) Bool(key string) bool {
	v, ok := c.values[key]
	if !ok {
		return false
	}
	return toBool(v)
}

// Int returns key as an integer.
func (c *Capabilities) Int(key string) (int, bool) {
	v, ok := c.values[key]
	if !ok {
		return 0, false
	}
	return toInt(v)
}

// String returns key as a string; absent keys are "".
func (c *Capabilities) String(key string) string {
	v, ok := c.values[key]
	if !ok {
		return ""
	}
	s, _ := toString(v)
	return s
}

// Strings returns key as a list of strings.
func (c *Capabilities) Strings(key string) []string {
	v, ok := c.values[key]
	if !ok {
		return nil
	}
	return toStrings(v)
}

// Map returns key as a nested mapping.
func (c *Capabilities) Map(key string) map[string]interface{} {
	v, ok := c.values[key]
	if !ok {
		return nil
	}
	m, _ := toMap(v)
	return m
}

// ToMap returns a copy suitable for sending in a hello packet.
func (c *Capabilities) ToMap() map[string]interface{} {
	out := make(map[string]interface{}, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// MarshalYAML emits the capabilities in their build order.
func (c *Capabilities) MarshalYAML() (interface{}, error) {
	items := make([]map[string]interface{}, 0, len(c.keys))
	for _, k := range c.keys {
		items = append(items, map[string]interface{}{k: c.values[k]})
	}
	return items, nil
}

// CapabilityOptions are the inputs the local capability set is derived from.
type CapabilityOptions struct {
	Version           string
	Platform          string
	PlatformProcessor string
	SessionType       string
	ClientType        string
	UUID              string
	Username          string

	DesktopWidth  int
	DesktopHeight int
	DPI           int

	// Encodings lists every paint encoding a decoder exists for, in
	// preference order. Video encodings among them get tuning entries.
	Encodings []string

	// Compression lists the payload compressors available ("zlib", "lz4").
	Compression []string

	// Digests lists the challenge digests available, see AuthRegistry.
	Digests []string

	// AudioCodecs lists the codecs the audio backend can decode.
	AudioCodecs []string

	Keycodes [][]interface{}

	Clipboard     bool
	Notifications bool
	Cursors       bool
	Bell          bool
	SystemTray    bool
}

// DefaultCapabilityOptions probes the runtime platform and returns options
// with a fresh session UUID.
func DefaultCapabilityOptions() CapabilityOptions {
	return CapabilityOptions{
		Version:           Version,
		Platform:          runtime.GOOS,
		PlatformProcessor: runtime.GOARCH,
		SessionType:       "go",
		ClientType:        "go-xpra",
		UUID:              NewSessionUUID(),
		DesktopWidth:      1024,
		DesktopHeight:     768,
		DPI:               96,
		Encodings:         coreEncodings(),
		Compression:       []string{"zlib", "lz4"},
		Digests:           NewAuthRegistry().SupportedDigests(),
		Keycodes:          KeycodeTable(),
		Notifications:     true,
		Cursors:           true,
		Bell:              true,
		SystemTray:        true,
	}
}

// NewSessionUUID returns a hex session identifier without dashes.
func NewSessionUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

var supportedMetadata = []string{
	"fullscreen", "maximized", "above", "below",
	"title", "size-hints", "class-instance", "transient-for", "window-type",
	"decorations", "override-redirect", "tray", "modal", "opacity",
}

// BuildCapabilities derives the local capability set. The same options
// always yield the same capabilities in the same order.
func BuildCapabilities(opts CapabilityOptions) *Capabilities {
	c := newCapabilities()

	c.set("version", opts.Version)
	c.set("platform", opts.Platform)
	c.set("platform.name", opts.Platform)
	c.set("platform.processor", opts.PlatformProcessor)
	c.set("session-type", opts.SessionType)
	c.set("namespace", true)
	c.set("share", false)
	c.set("steal", true)
	c.set("client_type", opts.ClientType)
	c.set("username", opts.Username)
	c.set("uuid", opts.UUID)
	c.set("digest", stringList(opts.Digests))

	zlib := containsString(opts.Compression, "zlib")
	lz4 := containsString(opts.Compression, "lz4")
	c.set("zlib", zlib)
	c.set("lz4", lz4)
	c.set("encoding.rgb_lz4", lz4)
	c.set("encoding.rgb_zlib", zlib)
	c.set("encoding.rgb24zlib", zlib)
	c.set("compression_level", 1)
	c.set("bencode", false)
	c.set("rencode", false)

	c.set("auto_refresh_delay", 500)
	c.set("randr_notify", true)
	c.set("sound.server_driven", true)
	c.set("server-window-resize", true)
	c.set("notify-startup-complete", true)
	c.set("generic-rgb-encodings", true)
	c.set("window.raise", true)
	c.set("metadata.supported", stringList(supportedMetadata))

	encodings := stringList(opts.Encodings)
	c.set("encodings", encodings)
	c.set("encodings.core", encodings)
	c.set("encodings.rgb_formats", []interface{}{"RGBX", "RGBA"})
	c.set("encodings.cursor", []interface{}{"png"})
	c.set("encoding.generic", true)
	c.set("encoding.transparency", true)
	c.set("encoding.client_options", true)
	c.set("encoding.csc_atoms", true)
	c.set("encoding.scrolling", containsString(opts.Encodings, "scroll"))

	video := videoEncodingsIn(opts.Encodings)
	if len(video) > 0 {
		c.set("encoding.video_scaling", true)
		modes := make(map[string]interface{}, len(video))
		for _, enc := range video {
			modes[enc] = []interface{}{"YUV420P"}
		}
		c.set("encoding.full_csc_modes", modes)
		for _, enc := range video {
			for _, entry := range videoTuning[enc] {
				c.set(entry.key, entry.value)
			}
		}
	}

	audio := len(opts.AudioCodecs) > 0
	c.set("sound.receive", audio)
	c.set("sound.send", false)
	c.set("sound.decoders", stringList(opts.AudioCodecs))
	c.set("sound.bundle-metadata", true)

	c.set("windows", true)
	c.set("keyboard", true)
	c.set("xkbmap_layout", "us")
	c.set("xkbmap_keycodes", opts.Keycodes)

	desktop := []interface{}{opts.DesktopWidth, opts.DesktopHeight}
	c.set("desktop_size", desktop)
	c.set("desktop_mode_size", desktop)
	c.set("screen_sizes", screenSizes(opts.DesktopWidth, opts.DesktopHeight, opts.DPI))
	c.set("dpi", opts.DPI)

	c.set("clipboard_enabled", opts.Clipboard)
	c.set("clipboard.want_targets", true)
	c.set("clipboard.selections", []interface{}{"CLIPBOARD", "PRIMARY"})
	c.set("notifications", opts.Notifications)
	c.set("cursors", opts.Cursors)
	c.set("bell", opts.Bell)
	c.set("system_tray", opts.SystemTray)
	c.set("named_cursors", false)
	c.set("file-transfer", false)
	c.set("printing", false)

	return c
}

type capabilityEntry struct {
	key   string
	value interface{}
}

var videoTuning = map[string][]capabilityEntry{
	"h264": {
		{"encoding.h264.YUV420P.profile", "baseline"},
		{"encoding.h264.YUV420P.level", "2.1"},
		{"encoding.h264.cabac", false},
		{"encoding.h264.deblocking-filter", false},
		{"encoding.h264.score-delta", -20},
	},
	"h264+mp4": {
		{"encoding.h264+mp4.YUV420P.profile", "main"},
		{"encoding.h264+mp4.YUV420P.level", "3.0"},
		{"encoding.h264+mp4.score-delta", 50},
	},
	"mpeg4+mp4": {
		{"encoding.mpeg4+mp4.score-delta", 50},
	},
	"vp8+webm": {
		{"encoding.vp8+webm.score-delta", 50},
	},
	"vp9+webm": {
		{"encoding.vp9+webm.score-delta", 40},
	},
}

// screenSizes describes one screen with one monitor covering the desktop.
func screenSizes(width, height, dpi int) []interface{} {
	if dpi <= 0 {
		dpi = 96
	}
	wmm := int(math.Round(float64(width) * 25.4 / float64(dpi)))
	hmm := int(math.Round(float64(height) * 25.4 / float64(dpi)))
	monitor := []interface{}{"Canvas", 0, 0, width, height, wmm, hmm}
	screen := []interface{}{"Go", width, height, wmm, hmm, []interface{}{monitor}, 0, 0, width, height}
	return []interface{}{screen}
}

// Negotiated is the outcome of comparing the local and remote capabilities.
type Negotiated struct {
	// Encodings are the local encodings the server also accepts.
	Encodings []string

	// Compression is "lz4" or "zlib" when both sides support it.
	Compression string

	// AudioCodec is the codec in use; empty when audio is disabled.
	AudioCodec string

	// ServerVersion is the version string the server announced.
	ServerVersion string
}

// AudioEnabled reports whether a common audio codec was found.
func (n Negotiated) AudioEnabled() bool {
	return n.AudioCodec != ""
}

// Negotiate compares the local and remote sets. Missing or incompatible
// features are negotiated down; it never fails.
func Negotiate(local, remote *Capabilities, preferredAudio string) Negotiated {
	n := Negotiated{ServerVersion: remote.String("version")}

	localEncodings := local.Strings("encodings")
	if remote.Has("encodings") {
		serverEncodings := remote.Strings("encodings")
		for _, enc := range localEncodings {
			if containsString(serverEncodings, enc) || (strings.HasPrefix(enc, "rgb") && containsString(serverEncodings, "rgb")) {
				n.Encodings = append(n.Encodings, enc)
			}
		}
	} else {
		n.Encodings = localEncodings
	}

	switch {
	case local.Bool("lz4") && remote.Bool("lz4"):
		n.Compression = "lz4"
	case local.Bool("zlib") && remote.Bool("zlib"):
		n.Compression = "zlib"
	}

	n.AudioCodec = negotiateAudioCodec(local.Strings("sound.decoders"), preferredAudio, remote)
	return n
}

func stringList(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
