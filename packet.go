// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"fmt"
	"math"
	"sort"
)

// Packet is one protocol message: a command name followed by its arguments.
type Packet []interface{}

// NewPacket builds a packet from a command name and its arguments.
func NewPacket(command string, args ...interface{}) Packet {
	p := make(Packet, 0, len(args)+1)
	p = append(p, command)
	return append(p, args...)
}

// Command returns the packet's command name, or "" if the packet is malformed.
func (p Packet) Command() string {
	if len(p) == 0 {
		return ""
	}
	switch v := p[0].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// Args returns the packet arguments following the command name.
func (p Packet) Args() []interface{} {
	if len(p) < 2 {
		return nil
	}
	return p[1:]
}

// Command identifies every packet the session knows how to route.
type Command int

const (
	CmdUnknown Command = iota
	CmdHello
	CmdChallenge
	CmdDisconnect
	CmdPing
	CmdPingEcho
	CmdDraw
	CmdCursor
	CmdNewWindow
	CmdNewOverrideRedirect
	CmdConfigureOverrideRedirect
	CmdWindowMetadata
	CmdWindowMoveResize
	CmdWindowResized
	CmdRaiseWindow
	CmdLostWindow
	CmdDesktopSize
	CmdSoundData
	CmdStartupComplete
)

var commandNames = map[string]Command{
	"hello":                       CmdHello,
	"challenge":                   CmdChallenge,
	"disconnect":                  CmdDisconnect,
	"ping":                        CmdPing,
	"ping_echo":                   CmdPingEcho,
	"draw":                        CmdDraw,
	"cursor":                      CmdCursor,
	"new-window":                  CmdNewWindow,
	"new-override-redirect":       CmdNewOverrideRedirect,
	"configure-override-redirect": CmdConfigureOverrideRedirect,
	"window-metadata":             CmdWindowMetadata,
	"window-move-resize":          CmdWindowMoveResize,
	"window-resized":              CmdWindowResized,
	"raise-window":                CmdRaiseWindow,
	"lost-window":                 CmdLostWindow,
	"desktop_size":                CmdDesktopSize,
	"sound-data":                  CmdSoundData,
	"startup-complete":            CmdStartupComplete,
}

// ParseCommand maps a wire command name onto the known command set.
func ParseCommand(name string) Command {
	if c, ok := commandNames[name]; ok {
		return c
	}
	return CmdUnknown
}

// quietCommands are sent too often to be worth logging.
var quietCommands = map[string]bool{
	"ping_echo":        true,
	"pointer-position": true,
	"button-action":    true,
	"key-action":       true,
	"damage-sequence":  true,
}

// quietInbound are received too often to be worth logging.
var quietInbound = map[string]bool{
	"ping":       true,
	"draw":       true,
	"cursor":     true,
	"sound-data": true,
}

// argument accessors tolerate the numeric types produced by the codecs
// (int64, uint64, float64, ...) and report whether the value was usable.

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		i, ok := toInt(v)
		return int64(i), ok
	}
}

func toString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}

func toBytes(v interface{}) ([]byte, bool) {
	switch b := v.(type) {
	case []byte:
		return b, true
	case string:
		return []byte(b), true
	case nil:
		return nil, true
	default:
		return nil, false
	}
}

func toBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true" || b == "1"
	default:
		n, ok := toInt(v)
		return ok && n != 0
	}
}

func toList(v interface{}) ([]interface{}, bool) {
	switch l := v.(type) {
	case []interface{}:
		return l, true
	case []string:
		out := make([]interface{}, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]interface{}, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}

func toStrings(v interface{}) []string {
	list, ok := toList(v)
	if !ok {
		if s, ok := toString(v); ok && s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := toString(item); ok {
			out = append(out, s)
		}
	}
	return out
}

// toMap accepts both string-keyed maps and the interface-keyed maps some
// decoders produce.
func toMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			key, ok := toString(k)
			if !ok {
				key = fmt.Sprint(k)
			}
			out[key] = val
		}
		return out, true
	case nil:
		return map[string]interface{}{}, true
	default:
		return nil, false
	}
}

// argReader walks packet arguments, remembering the first failure.
type argReader struct {
	command string
	args    []interface{}
	err     error
}

func newArgReader(p Packet) *argReader {
	return &argReader{command: p.Command(), args: p.Args()}
}

func (r *argReader) fail(i int, want string) {
	if r.err == nil {
		r.err = protocolError("Packet."+r.command,
			fmt.Sprintf("argument %d: expected %s", i, want), nil)
	}
}

func (r *argReader) has(i int) bool {
	return i < len(r.args)
}

func (r *argReader) Int(i int) int {
	if !r.has(i) {
		r.fail(i, "integer")
		return 0
	}
	n, ok := toInt(r.args[i])
	if !ok {
		r.fail(i, "integer")
	}
	return n
}

func (r *argReader) Int64(i int) int64 {
	if !r.has(i) {
		r.fail(i, "integer")
		return 0
	}
	n, ok := toInt64(r.args[i])
	if !ok {
		r.fail(i, "integer")
	}
	return n
}

func (r *argReader) OptInt(i, def int) int {
	if !r.has(i) || r.args[i] == nil {
		return def
	}
	return r.Int(i)
}

func (r *argReader) String(i int) string {
	if !r.has(i) {
		r.fail(i, "string")
		return ""
	}
	s, ok := toString(r.args[i])
	if !ok {
		r.fail(i, "string")
	}
	return s
}

func (r *argReader) OptString(i int, def string) string {
	if !r.has(i) || r.args[i] == nil {
		return def
	}
	return r.String(i)
}

func (r *argReader) Bytes(i int) []byte {
	if !r.has(i) {
		r.fail(i, "bytes")
		return nil
	}
	b, ok := toBytes(r.args[i])
	if !ok {
		r.fail(i, "bytes")
	}
	return b
}

func (r *argReader) Raw(i int) interface{} {
	if !r.has(i) {
		return nil
	}
	return r.args[i]
}

func (r *argReader) Map(i int) map[string]interface{} {
	if !r.has(i) {
		return map[string]interface{}{}
	}
	m, ok := toMap(r.args[i])
	if !ok {
		r.fail(i, "mapping")
		return map[string]interface{}{}
	}
	return m
}

func (r *argReader) Err() error {
	return r.err
}

// sortedKeys returns the keys of m in lexical order.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
