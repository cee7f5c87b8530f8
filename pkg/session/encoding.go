package session

import (
	"strings"
)

const (
	EncodingWebMOpus = "audio/webm;codecs=opus"
	EncodingWebM     = "audio/webm"
	EncodingMP4      = "audio/mp4"
	// EncodingPlatformDefault lets the platform pick a container.
	EncodingPlatformDefault = ""

	fallbackMimeType = "audio/webm"
)

// DefaultEncodings is the fixed preference order used for negotiation.
func DefaultEncodings() []string {
	return []string{EncodingWebMOpus, EncodingWebM, EncodingMP4, EncodingPlatformDefault}
}

// NegotiateEncoding returns the first preferred encoding the platform
// supports. The empty encoding is always acceptable and is returned when
// nothing else matches.
func NegotiateEncoding(preferred []string, supports func(string) bool) string {
	for _, enc := range preferred {
		if enc == EncodingPlatformDefault {
			return enc
		}
		if supports != nil && supports(enc) {
			return enc
		}
	}
	return EncodingPlatformDefault
}

// FilenameForMimeType picks the upload filename whose extension matches the
// encoding.
func FilenameForMimeType(mimeType string) string {
	m := strings.ToLower(mimeType)
	switch {
	case strings.Contains(m, "mp4"):
		return "audio.mp4"
	case strings.Contains(m, "wav"):
		return "audio.wav"
	default:
		return "audio.webm"
	}
}
