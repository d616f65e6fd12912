package orchestrator

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Morning Stream", "Morning Stream"},
		{`a/b\c:d*e?f"g<h>i|j`, "abcdefghij"},
		{"  lots   of\t\nspace  ", "lots of space"},
		{"trailing dots...", "trailing dots"},
		{"ctrl\x00\x1fchars", "ctrlchars"},
		{"\ud55c\uad6d\uc5b4 \ubc29\uc1a1", "\ud55c\uad6d\uc5b4 \ubc29\uc1a1"},
		{"caf" + "e\u0301", "caf\u00e9"},
		{"", ""},
		{"///", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, SanitizeName(c.in), "SanitizeName(%q)", c.in)
	}
}

func TestSanitizeName_caps_length(t *testing.T) {
	got := SanitizeName(strings.Repeat("가", 200))
	assert.Equal(t, maxNameRunes, utf8.RuneCountInString(got))
}

func TestCaptureFileName(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 30, 5, 0, time.UTC)
	alice := Channel{ChannelID: chanA, DisplayName: "Alice"}
	assert.Equal(t, "20260314_093005_Morning Stream_[Alice].ts", CaptureFileName(at, "Morning Stream", alice))
	assert.Equal(t, "20260314_093005_untitled_[Alice].ts", CaptureFileName(at, " ?? ", alice))

	unnamed := Channel{ChannelID: chanA}
	assert.Equal(t, "20260314_093005_Morning Stream_["+chanA+"].ts", CaptureFileName(at, "Morning Stream", unnamed))
	assert.Equal(t, chanA, ChannelDir(unnamed))
}

func TestChannelDir(t *testing.T) {
	assert.Equal(t, "Alice", ChannelDir(Channel{ChannelID: chanA, DisplayName: "Alice"}))
	assert.Equal(t, chanA, ChannelDir(Channel{ChannelID: chanA, DisplayName: "//"}))
}

func TestFinalizedPath(t *testing.T) {
	assert.Equal(t, "/rec/Alice/x.mp4", FinalizedPath("/rec/Alice/x.ts"))
	assert.Equal(t, "/rec/a.b/x.mp4", FinalizedPath("/rec/a.b/x"))
}
