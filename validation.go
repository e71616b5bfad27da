// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"fmt"
	"net/url"
	"unicode"
	"unicode/utf8"
)

// Limits applied to server supplied values.
const (
	MaxSurfaceDimension = 32768
	MaxTitleLength      = 4096
	MaxCommandLength    = 64
)

// InputValidator validates server supplied packet data and local requests.
type InputValidator struct{}

func newInputValidator() *InputValidator {
	return &InputValidator{}
}

// ValidateURI accepts ws:// and wss:// endpoints with a host.
func (iv *InputValidator) ValidateURI(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return validationError("InputValidator.ValidateURI", "malformed uri", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return validationError("InputValidator.ValidateURI",
			fmt.Sprintf("unsupported scheme %q, expected ws or wss", u.Scheme), nil)
	}
	if u.Host == "" {
		return validationError("InputValidator.ValidateURI", "uri has no host", nil)
	}
	return nil
}

// ValidateCommand validates a packet command name.
func (iv *InputValidator) ValidateCommand(command string) error {
	if command == "" {
		return validationError("InputValidator.ValidateCommand", "command cannot be empty", nil)
	}
	if len(command) > MaxCommandLength {
		return validationError("InputValidator.ValidateCommand",
			fmt.Sprintf("command length %d exceeds maximum %d", len(command), MaxCommandLength), nil)
	}
	for _, r := range command {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.') {
			return validationError("InputValidator.ValidateCommand",
				fmt.Sprintf("command %q contains invalid character %q", command, r), nil)
		}
	}
	return nil
}

// ValidateSurfaceID validates a server assigned surface identifier.
func (iv *InputValidator) ValidateSurfaceID(id int) error {
	if id <= 0 {
		return validationError("InputValidator.ValidateSurfaceID",
			fmt.Sprintf("surface id must be positive, got %d", id), nil)
	}
	return nil
}

// ValidateGeometry validates a surface rectangle.
func (iv *InputValidator) ValidateGeometry(g Geometry) error {
	if g.Width <= 0 || g.Height <= 0 {
		return validationError("InputValidator.ValidateGeometry",
			fmt.Sprintf("dimensions must be positive, got %dx%d", g.Width, g.Height), nil)
	}
	if g.Width > MaxSurfaceDimension || g.Height > MaxSurfaceDimension {
		return validationError("InputValidator.ValidateGeometry",
			fmt.Sprintf("dimensions %dx%d exceed maximum %d", g.Width, g.Height, MaxSurfaceDimension), nil)
	}
	return nil
}

// ValidatePaintItem checks a paint instruction before it is queued.
func (iv *InputValidator) ValidatePaintItem(item *PaintItem) error {
	if item == nil {
		return validationError("InputValidator.ValidatePaintItem", "paint item is nil", nil)
	}
	if err := iv.ValidateSurfaceID(item.SurfaceID); err != nil {
		return err
	}
	if item.X < 0 || item.Y < 0 {
		return validationError("InputValidator.ValidatePaintItem",
			fmt.Sprintf("negative paint origin (%d,%d)", item.X, item.Y), nil)
	}
	if item.Encoding == "scroll" {
		for _, s := range item.Scrolls {
			if err := iv.ValidateScrollRegion(s); err != nil {
				return err
			}
		}
		return nil
	}
	if item.Width <= 0 || item.Height <= 0 || item.Width > MaxSurfaceDimension || item.Height > MaxSurfaceDimension {
		return validationError("InputValidator.ValidatePaintItem",
			fmt.Sprintf("invalid paint size %dx%d", item.Width, item.Height), nil)
	}
	if sw, sh := item.Options.ScaledWidth, item.Options.ScaledHeight; sw != 0 || sh != 0 {
		if sw <= 0 || sh <= 0 || sw > MaxSurfaceDimension || sh > MaxSurfaceDimension {
			return validationError("InputValidator.ValidatePaintItem",
				fmt.Sprintf("invalid scaled size %dx%d", sw, sh), nil)
		}
	}
	if item.RowStride < 0 {
		return validationError("InputValidator.ValidatePaintItem",
			fmt.Sprintf("negative row stride %d", item.RowStride), nil)
	}
	return nil
}

// ValidateScrollRegion checks one scroll tuple.
func (iv *InputValidator) ValidateScrollRegion(s ScrollRegion) error {
	if s.Width <= 0 || s.Height <= 0 {
		return validationError("InputValidator.ValidateScrollRegion",
			fmt.Sprintf("invalid scroll size %dx%d", s.Width, s.Height), nil)
	}
	if s.X < 0 || s.Y < 0 {
		return validationError("InputValidator.ValidateScrollRegion",
			fmt.Sprintf("negative scroll origin (%d,%d)", s.X, s.Y), nil)
	}
	return nil
}

// ValidateTextData validates metadata text such as window titles.
func (iv *InputValidator) ValidateTextData(text string, maxLength int) error {
	if len(text) > maxLength {
		return validationError("InputValidator.ValidateTextData",
			fmt.Sprintf("text length %d exceeds maximum %d", len(text), maxLength), nil)
	}

	if !utf8.ValidString(text) {
		return validationError("InputValidator.ValidateTextData",
			"text contains invalid UTF-8 sequences", nil)
	}

	for i, char := range text {
		if char < 32 && char != '\t' && char != '\n' && char != '\r' {
			return validationError("InputValidator.ValidateTextData",
				fmt.Sprintf("text contains invalid control character at position %d", i), nil)
		}
	}

	return nil
}

// SanitizeText replaces control and unprintable characters.
func (iv *InputValidator) SanitizeText(text string) string {
	if text == "" {
		return text
	}

	sanitized := make([]rune, 0, len(text))
	for _, r := range text {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			sanitized = append(sanitized, r)
		case r < 32:
			sanitized = append(sanitized, ' ')
		case r == utf8.RuneError || !unicode.IsPrint(r):
			sanitized = append(sanitized, '\uFFFD')
		default:
			sanitized = append(sanitized, r)
		}
	}

	if len(sanitized) > MaxTitleLength {
		sanitized = sanitized[:MaxTitleLength]
	}
	return string(sanitized)
}
