// Package manifest turns a VOD playback document into a ranked list of
// downloadable quality variants.
package manifest

import (
	"errors"
	"net/url"
	"sort"
	"strings"
)

// ErrNoVariants is returned when a payload yields nothing usable.
var ErrNoVariants = errors.New("manifest: no usable quality variants")

const (
	// DefaultLabel names the synthesized variant used when the payload only
	// carries a single URL or no usable representation.
	DefaultLabel = "720p"

	defaultWidth  = 1280
	defaultHeight = 720

	// DefaultTrustedHostSuffix is the CDN domain that serves chzzk VOD assets.
	DefaultTrustedHostSuffix = "pstatic.net"
)

// Variant is one selectable rendition of an asset.
type Variant struct {
	Label        string `json:"label"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	BandwidthBps int64  `json:"bandwidth_bps"`
	SourceURL    string `json:"source_url"`
}

// Label buckets a height into the fixed quality ladder.
func Label(height int) string {
	switch {
	case height >= 1080:
		return "1080p"
	case height >= 720:
		return "720p"
	case height >= 480:
		return "480p"
	case height >= 360:
		return "360p"
	default:
		return "240p"
	}
}

func defaultVariant(src string) Variant {
	return Variant{
		Label:     DefaultLabel,
		Width:     defaultWidth,
		Height:    defaultHeight,
		SourceURL: src,
	}
}

// trustedHost reports whether raw is an absolute http(s) URL whose host is
// suffix or a subdomain of it.
func trustedHost(raw, suffix string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	suffix = strings.ToLower(strings.TrimPrefix(suffix, "."))
	if host == "" || suffix == "" {
		return false
	}
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}

// rank drops duplicate labels (first seen wins) and orders the rest by
// height, then width, descending. Equal keys keep input order.
func rank(in []Variant) []Variant {
	seen := make(map[string]struct{}, len(in))
	out := make([]Variant, 0, len(in))
	for _, v := range in {
		if _, dup := seen[v.Label]; dup {
			continue
		}
		seen[v.Label] = struct{}{}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Height != out[j].Height {
			return out[i].Height > out[j].Height
		}
		return out[i].Width > out[j].Width
	})
	return out
}
