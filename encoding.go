// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

// encodingKind selects the decode strategy for a paint encoding.
type encodingKind int

const (
	kindUnknown encodingKind = iota
	kindRaster
	kindImage
	kindVideo
	kindScroll
)

var encodingKinds = map[string]encodingKind{
	"rgb":       kindRaster,
	"rgb32":     kindRaster,
	"rgb24":     kindRaster,
	"png":       kindImage,
	"png/P":     kindImage,
	"png/L":     kindImage,
	"jpeg":      kindImage,
	"webp":      kindImage,
	"h264":      kindVideo,
	"vp8":       kindVideo,
	"vp9":       kindVideo,
	"h264+mp4":  kindVideo,
	"vp8+webm":  kindVideo,
	"vp9+webm":  kindVideo,
	"mpeg4+mp4": kindVideo,
	"scroll":    kindScroll,
}

// VideoEncodings lists the streaming video encodings in preference order.
// They are only advertised when a VideoDecoderFactory is configured.
var VideoEncodings = []string{"h264", "vp8+webm", "vp9+webm", "h264+mp4", "mpeg4+mp4", "vp8", "vp9"}

func encodingKindOf(encoding string) encodingKind {
	return encodingKinds[encoding]
}

func isVideoEncoding(encoding string) bool {
	return encodingKindOf(encoding) == kindVideo
}

// coreEncodings returns the encodings decoded without external backends.
func coreEncodings() []string {
	return []string{"jpeg", "png", "png/P", "png/L", "webp", "rgb", "rgb32", "rgb24", "scroll"}
}

// videoEncodingsIn filters encodings down to the video ones, keeping order.
func videoEncodingsIn(encodings []string) []string {
	var out []string
	for _, enc := range encodings {
		if isVideoEncoding(enc) {
			out = append(out, enc)
		}
	}
	return out
}
