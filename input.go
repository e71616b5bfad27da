// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"math"
	"strings"
	"unicode"
)

// Key codes with special handling.
const (
	KeyCodeIME     = 229
	KeyCodeNumLock = 144

	// KeyLocationRight is the location of the right-hand copy of a key.
	KeyLocationRight = 2
)

// Modifiers is the state of the modifier keys during an event.
type Modifiers struct {
	Shift   bool
	Control bool
	Alt     bool
	Meta    bool
}

// KeyEvent is a keyboard event in DOM terms: Code names the physical key
// ("KeyA", "Numpad1"), Key is the produced value ("a", "End"), KeyCode the
// legacy numeric code.
type KeyEvent struct {
	Code      string
	Key       string
	KeyCode   int
	Location  int
	Pressed   bool
	Modifiers Modifiers
}

// KeyAction is the canonical form of a key event sent as key-action.
type KeyAction struct {
	Keyname   string
	Pressed   bool
	Modifiers []string
	Keyval    int
	Str       string
	Keycode   int
	Group     int
}

// Wheel delta modes.
const (
	DeltaPixel = 0
	DeltaLine  = 1
	DeltaPage  = 2
)

// WheelEvent is a wheel event with DOM style deltas.
type WheelEvent struct {
	DeltaX    float64
	DeltaY    float64
	DeltaMode int
}

// ButtonEvent is one discrete button transition.
type ButtonEvent struct {
	Button  int
	Pressed bool
}

const (
	wheelClamp = 1200
	wheelStep  = 120
)

// InputTranslator converts host input into the protocol vocabulary and
// carries the lock state and wheel remainders between events. It is not
// safe for concurrent use.
type InputTranslator struct {
	CapsLock bool
	NumLock  bool
	SwapKeys bool

	// NumLockModifier is the modifier reported while num-lock is on.
	NumLockModifier string

	wheelX float64
	wheelY float64
}

// NewInputTranslator returns a translator with num-lock reported as mod2.
func NewInputTranslator(swapKeys bool) *InputTranslator {
	return &InputTranslator{SwapKeys: swapKeys, NumLockModifier: "mod2"}
}

// Modifiers returns the protocol modifier names for m, including the lock
// state, with control and meta swapped when SwapKeys is set.
func (t *InputTranslator) Modifiers(m Modifiers) []string {
	alt, meta, control := "mod1", "mod1", "control"
	if t.SwapKeys {
		meta, control = "control", "mod1"
	}
	out := make([]string, 0, 6)
	if m.Shift {
		out = append(out, "shift")
	}
	if m.Control {
		out = append(out, control)
	}
	if m.Alt {
		out = append(out, alt)
	}
	if m.Meta {
		out = append(out, meta)
	}
	if t.CapsLock {
		out = append(out, "lock")
	}
	if t.NumLock && t.NumLockModifier != "" {
		out = append(out, t.NumLockModifier)
	}
	return out
}

// TranslateKey canonicalizes a key event. It returns false for events
// that must not be forwarded (IME composition).
func (t *InputTranslator) TranslateKey(ev KeyEvent) (KeyAction, bool) {
	if ev.KeyCode == KeyCodeIME {
		return KeyAction{}, false
	}

	str := ev.Key
	if str == "" && ev.KeyCode > 0 {
		str = string(rune(ev.KeyCode))
	}

	if ev.KeyCode == KeyCodeNumLock && ev.Pressed {
		t.NumLock = !t.NumLock
	}
	if ev.Pressed {
		t.inferCapsLock(str, ev.Modifiers.Shift)
	}

	keyname := ev.Code
	if name, ok := numpadToName[str]; ok && keyname != str && strings.HasPrefix(ev.Code, "Numpad") {
		keyname = name
		t.NumLock = len(str) == 1 && strings.ContainsAny(str, "0123456789.")
	} else if name, ok := keyToName[ev.Code]; ok {
		keyname = name
	} else if name, ok := charToName[str]; ok {
		keyname = name
	} else if name, ok := charcodeToName[ev.KeyCode]; ok {
		keyname = name
	}

	if ev.Location == KeyLocationRight && strings.HasSuffix(keyname, "_L") {
		keyname = strings.TrimSuffix(keyname, "_L") + "_R"
	}

	if t.CapsLock == ev.Modifiers.Shift {
		str = strings.ToLower(str)
	}

	if t.SwapKeys {
		switch keyname {
		case "Control_L":
			keyname, str = "Meta_L", "meta"
		case "Meta_L":
			keyname, str = "Control_L", "control"
		case "Control_R":
			keyname, str = "Meta_R", "meta"
		case "Meta_R":
			keyname, str = "Control_R", "control"
		}
	}

	return KeyAction{
		Keyname:   keyname,
		Pressed:   ev.Pressed,
		Modifiers: t.Modifiers(ev.Modifiers),
		Keyval:    ev.KeyCode,
		Str:       str,
		Keycode:   ev.KeyCode,
		Group:     0,
	}, true
}

// inferCapsLock updates CapsLock from a letter and the shift state: an
// upper-case letter without shift, or lower-case with it, means caps-lock
// is on. Keys that are not letters say nothing about it.
func (t *InputTranslator) inferCapsLock(str string, shift bool) {
	runes := []rune(str)
	if len(runes) != 1 || !unicode.IsLetter(runes[0]) {
		return
	}
	r := runes[0]
	upper, lower := unicode.IsUpper(r), unicode.IsLower(r)
	if upper == lower {
		return
	}
	t.CapsLock = (upper && !shift) || (lower && shift)
}

// TranslateWheel accumulates a wheel event and returns the button clicks
// it completes, as press/release pairs. Sub-click motion is kept for the
// next event.
func (t *InputTranslator) TranslateWheel(ev WheelEvent) []ButtonEvent {
	scale := 1.0
	switch ev.DeltaMode {
	case DeltaLine:
		scale = 40
	case DeltaPage:
		scale = 800
	}
	px := clampWheel(ev.DeltaX * scale)
	py := clampWheel(ev.DeltaY * scale)

	t.wheelX = accumulateWheel(t.wheelX, px)
	t.wheelY = accumulateWheel(t.wheelY, py)

	var out []ButtonEvent
	btnX := 7
	if t.wheelX >= 0 {
		btnX = 6
	}
	btnY := 4
	if t.wheelY >= 0 {
		btnY = 5
	}
	t.wheelX, out = emitWheel(t.wheelX, btnX, out)
	t.wheelY, out = emitWheel(t.wheelY, btnY, out)
	return out
}

// WheelRemainder returns the accumulated motion not yet turned into clicks.
func (t *InputTranslator) WheelRemainder() (x, y float64) {
	return t.wheelX, t.wheelY
}

func clampWheel(v float64) float64 {
	return math.Max(-wheelClamp, math.Min(wheelClamp, v))
}

// accumulateWheel snaps a typical single notch to exactly one click and
// adds anything else to the running total.
func accumulateWheel(acc, v float64) float64 {
	if a := math.Abs(v); a >= 40 && a <= 160 {
		if v > 0 {
			return wheelStep
		}
		return -wheelStep
	}
	return acc + v
}

func emitWheel(acc float64, button int, out []ButtonEvent) (float64, []ButtonEvent) {
	mag := math.Abs(acc)
	for mag >= wheelStep {
		mag -= wheelStep
		out = append(out, ButtonEvent{Button: button, Pressed: true}, ButtonEvent{Button: button, Pressed: false})
	}
	if acc < 0 {
		return -mag, out
	}
	return mag, out
}
