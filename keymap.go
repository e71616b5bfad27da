// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"sort"
	"strconv"
)

// numpadToName maps the key value of a numeric keypad key to its X keysym
// name. It is consulted only for keys whose code says they are on the
// keypad, so the arrow block and the digit row are not affected.
var numpadToName = map[string]string{
	"0":          "KP_0",
	"1":          "KP_1",
	"2":          "KP_2",
	"3":          "KP_3",
	"4":          "KP_4",
	"5":          "KP_5",
	"6":          "KP_6",
	"7":          "KP_7",
	"8":          "KP_8",
	"9":          "KP_9",
	".":          "KP_Decimal",
	",":          "KP_Separator",
	"/":          "KP_Divide",
	"*":          "KP_Multiply",
	"-":          "KP_Subtract",
	"+":          "KP_Add",
	"=":          "KP_Equal",
	"Enter":      "KP_Enter",
	"Home":       "KP_Home",
	"End":        "KP_End",
	"ArrowUp":    "KP_Up",
	"ArrowDown":  "KP_Down",
	"ArrowLeft":  "KP_Left",
	"ArrowRight": "KP_Right",
	"PageUp":     "KP_Prior",
	"PageDown":   "KP_Next",
	"Clear":      "KP_Begin",
	"Insert":     "KP_Insert",
	"Delete":     "KP_Delete",
}

// keyToName maps physical key codes of non-printing keys.
var keyToName = map[string]string{
	"Escape":        "Escape",
	"Tab":           "Tab",
	"CapsLock":      "Caps_Lock",
	"ShiftLeft":     "Shift_L",
	"ShiftRight":    "Shift_R",
	"ControlLeft":   "Control_L",
	"ControlRight":  "Control_R",
	"MetaLeft":      "Meta_L",
	"MetaRight":     "Meta_R",
	"OSLeft":        "Super_L",
	"OSRight":       "Super_R",
	"AltLeft":       "Alt_L",
	"AltRight":      "Alt_R",
	"ContextMenu":   "Menu",
	"Enter":         "Return",
	"Backspace":     "BackSpace",
	"Space":         "space",
	"Insert":        "Insert",
	"Delete":        "Delete",
	"Home":          "Home",
	"End":           "End",
	"PageUp":        "Prior",
	"PageDown":      "Next",
	"ArrowUp":       "Up",
	"ArrowDown":     "Down",
	"ArrowLeft":     "Left",
	"ArrowRight":    "Right",
	"NumLock":       "Num_Lock",
	"ScrollLock":    "Scroll_Lock",
	"Pause":         "Pause",
	"PrintScreen":   "Print",
	"F1":            "F1",
	"F2":            "F2",
	"F3":            "F3",
	"F4":            "F4",
	"F5":            "F5",
	"F6":            "F6",
	"F7":            "F7",
	"F8":            "F8",
	"F9":            "F9",
	"F10":           "F10",
	"F11":           "F11",
	"F12":           "F12",
	"IntlBackslash": "less",
	"IntlRo":        "backslash",
	"IntlYen":       "yen",
	"Lang1":         "Hangul",
	"Lang2":         "Hangul_Hanja",
	"KanaMode":      "Katakana",
	"Convert":       "Henkan",
	"NonConvert":    "Muhenkan",
}

// charToName maps printed characters to keysym names.
var charToName = map[string]string{
	" ":  "space",
	"!":  "exclam",
	"\"": "quotedbl",
	"#":  "numbersign",
	"$":  "dollar",
	"%":  "percent",
	"&":  "ampersand",
	"'":  "apostrophe",
	"(":  "parenleft",
	")":  "parenright",
	"*":  "asterisk",
	"+":  "plus",
	",":  "comma",
	"-":  "minus",
	".":  "period",
	"/":  "slash",
	":":  "colon",
	";":  "semicolon",
	"<":  "less",
	"=":  "equal",
	">":  "greater",
	"?":  "question",
	"@":  "at",
	"[":  "bracketleft",
	"\\": "backslash",
	"]":  "bracketright",
	"^":  "asciicircum",
	"_":  "underscore",
	"`":  "grave",
	"{":  "braceleft",
	"|":  "bar",
	"}":  "braceright",
	"~":  "asciitilde",
	"£":  "sterling",
	"€":  "EuroSign",
	"§":  "section",
	"°":  "degree",
	"µ":  "mu",
	"²":  "twosuperior",
	"¨":  "diaeresis",
	"´":  "acute",
	"à":  "agrave",
	"â":  "acircumflex",
	"ä":  "adiaeresis",
	"ç":  "ccedilla",
	"è":  "egrave",
	"é":  "eacute",
	"ê":  "ecircumflex",
	"ñ":  "ntilde",
	"ö":  "odiaeresis",
	"ü":  "udiaeresis",
	"ß":  "ssharp",
}

// charcodeToName is the last resort, keyed by legacy keyCode. It is also
// the keycode table advertised in the hello.
var charcodeToName = map[int]string{
	8:   "BackSpace",
	9:   "Tab",
	12:  "KP_Begin",
	13:  "Return",
	16:  "Shift_L",
	17:  "Control_L",
	18:  "Alt_L",
	19:  "Pause",
	20:  "Caps_Lock",
	27:  "Escape",
	31:  "Mode_switch",
	32:  "space",
	33:  "Prior",
	34:  "Next",
	35:  "End",
	36:  "Home",
	37:  "Left",
	38:  "Up",
	39:  "Right",
	40:  "Down",
	42:  "Print",
	45:  "Insert",
	46:  "Delete",
	58:  "colon",
	59:  "semicolon",
	60:  "less",
	61:  "equal",
	62:  "greater",
	63:  "question",
	64:  "at",
	91:  "Menu",
	92:  "Menu",
	93:  "KP_Enter",
	106: "KP_Multiply",
	107: "KP_Add",
	108: "KP_Separator",
	109: "KP_Subtract",
	110: "KP_Delete",
	111: "KP_Divide",
	144: "Num_Lock",
	145: "Scroll_Lock",
	160: "dead_circumflex",
	161: "exclam",
	162: "quotedbl",
	163: "numbersign",
	164: "dollar",
	165: "percent",
	166: "ampersand",
	167: "underscore",
	168: "parenleft",
	169: "parenright",
	170: "asterisk",
	171: "plus",
	172: "bar",
	173: "minus",
	174: "braceleft",
	175: "braceright",
	176: "asciitilde",
	186: "semicolon",
	187: "equal",
	188: "comma",
	189: "minus",
	190: "period",
	191: "slash",
	192: "grave",
	219: "bracketleft",
	220: "backslash",
	221: "bracketright",
	222: "apostrophe",
	224: "Meta_L",
	225: "ISO_Level3_Shift",
}

func init() {
	for c := '0'; c <= '9'; c++ {
		charcodeToName[int(c)] = string(c)
		charcodeToName[int(c)-'0'+96] = "KP_" + string(c)
	}
	for c := 'A'; c <= 'Z'; c++ {
		charcodeToName[int(c)] = string(c)
	}
	for i := 1; i <= 24; i++ {
		charcodeToName[111+i] = "F" + strconv.Itoa(i)
	}
}

// KeycodeTable returns the keycode entries sent as xkbmap_keycodes, each
// [keycode, keysym name, keycode, group, level], sorted by keycode.
func KeycodeTable() [][]interface{} {
	codes := make([]int, 0, len(charcodeToName))
	for code := range charcodeToName {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	table := make([][]interface{}, 0, len(codes))
	for _, code := range codes {
		table = append(table, []interface{}{code, charcodeToName[code], code, 0, 0})
	}
	return table
}
