package manifest

import "strings"

// Payload is a raw playback document and its declared content type.
type Payload struct {
	Body        []byte
	ContentType string
}

// Resolver ranks the quality variants in a playback document. The zero value
// trusts DefaultTrustedHostSuffix and has no fallback URL.
type Resolver struct {
	// TrustedHostSuffix restricts representation URLs to this domain.
	TrustedHostSuffix string

	// FallbackURL builds the playback URL used when a well-formed manifest
	// has no usable representation. Nil disables the fallback.
	FallbackURL func(videoID string) string
}

// Resolve returns the variants in p, best first, or ErrNoVariants.
//
// Precedence: a single playable URL, then the JSON adaptation structure, then
// the XML MPD. Only video representations with both dimensions and a source
// on the trusted host are kept.
func (r Resolver) Resolve(p Payload, videoID string) ([]Variant, error) {
	res := classify(p.Body, p.ContentType)

	switch res.kind {
	case kindSingleURL:
		return []Variant{defaultVariant(res.url)}, nil

	case kindAdaptation:
		if out := r.variants(res.reps); len(out) > 0 {
			return out, nil
		}
		if r.FallbackURL != nil && strings.TrimSpace(videoID) != "" {
			if u := strings.TrimSpace(r.FallbackURL(videoID)); u != "" {
				return []Variant{defaultVariant(u)}, nil
			}
		}
		return nil, ErrNoVariants

	default:
		return nil, ErrNoVariants
	}
}

func (r Resolver) variants(reps []representation) []Variant {
	suffix := r.TrustedHostSuffix
	if suffix == "" {
		suffix = DefaultTrustedHostSuffix
	}

	out := make([]Variant, 0, len(reps))
	for _, rep := range reps {
		if !rep.video || rep.width <= 0 || rep.height <= 0 {
			continue
		}
		if !trustedHost(rep.url, suffix) {
			continue
		}
		out = append(out, Variant{
			Label:        Label(rep.height),
			Width:        rep.width,
			Height:       rep.height,
			BandwidthBps: rep.bandwidth,
			SourceURL:    rep.url,
		})
	}
	return rank(out)
}

// Kind reports how a payload would be classified; used for logging.
func Kind(p Payload) string {
	return classify(p.Body, p.ContentType).kind.String()
}
