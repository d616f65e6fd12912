package orchestrator

import (
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	captureExt      = ".ts"
	finalizedExt    = ".mp4"
	fileTimeLayout  = "20060102_150405"
	maxNameRunes    = 80
	untitledCapture = "untitled"
)

// SanitizeName makes s safe as a single path element on common filesystems:
// NFC normalized, no path separators, reserved or control characters,
// whitespace collapsed, and at most maxNameRunes runes.
func SanitizeName(s string) string {
	s = norm.NFC.String(s)

	var b strings.Builder
	space := false
	n := 0
	for _, r := range s {
		if n >= maxNameRunes {
			break
		}
		switch {
		case unicode.IsSpace(r):
			if !space && b.Len() > 0 {
				b.WriteByte(' ')
				n++
			}
			space = true
			continue
		case strings.ContainsRune(`\/:*?"<>|`, r), unicode.IsControl(r):
			continue
		}
		space = false
		b.WriteRune(r)
		n++
	}
	return strings.Trim(b.String(), " .")
}

// CaptureFileName builds "{timestamp}_{title}_[{channel}].ts". The channel
// part is the same name ChannelDir uses.
func CaptureFileName(at time.Time, title string, ch Channel) string {
	t := SanitizeName(title)
	if t == "" {
		t = untitledCapture
	}
	return at.Format(fileTimeLayout) + "_" + t + "_[" + ChannelDir(ch) + "]" + captureExt
}

// ChannelDir is the per-channel output subdirectory name.
func ChannelDir(ch Channel) string {
	if d := SanitizeName(ch.DisplayName); d != "" {
		return d
	}
	return ch.ChannelID
}

// FinalizedPath swaps the capture extension for the finalized one.
func FinalizedPath(source string) string {
	return strings.TrimSuffix(source, filepath.Ext(source)) + finalizedExt
}
