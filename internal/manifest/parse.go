package manifest

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"net/url"
	"strconv"
	"strings"
)

type payloadKind int

const (
	kindUnparseable payloadKind = iota
	kindSingleURL
	kindAdaptation
)

func (k payloadKind) String() string {
	switch k {
	case kindSingleURL:
		return "single_url"
	case kindAdaptation:
		return "adaptation"
	default:
		return "unparseable"
	}
}

// representation is a format-neutral view of one rendition.
type representation struct {
	video     bool
	width     int
	height    int
	bandwidth int64
	url       string
}

// parsed is the tagged result of classifying a payload. url is set for
// kindSingleURL, reps for kindAdaptation.
type parsed struct {
	kind payloadKind
	url  string
	reps []representation
}

func classify(body []byte, contentType string) parsed {
	body = bytes.TrimSpace(bytes.TrimPrefix(body, []byte("\xef\xbb\xbf")))
	if len(body) == 0 {
		return parsed{kind: kindUnparseable}
	}

	xmlHint := strings.Contains(strings.ToLower(contentType), "xml")
	if !xmlHint {
		if p, ok := parseJSON(body); ok {
			return p
		}
	}
	if p, ok := parseXML(body); ok {
		return p
	}
	if xmlHint {
		if p, ok := parseJSON(body); ok {
			return p
		}
	}
	if u := plainURL(body); u != "" {
		return parsed{kind: kindSingleURL, url: u}
	}
	return parsed{kind: kindUnparseable}
}

func plainURL(body []byte) string {
	s := string(body)
	if strings.ContainsAny(s, " \t\r\n") {
		return ""
	}
	if strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://") {
		return s
	}
	return ""
}

// JSON form

type jsonDocument struct {
	URL         string                `json:"url"`
	PlaybackURL string                `json:"playbackUrl"`
	BaseURL     jsonBaseURL           `json:"baseURL"`
	Period      oneOrMany[jsonPeriod] `json:"period"`
}

type jsonPeriod struct {
	BaseURL       jsonBaseURL                  `json:"baseURL"`
	AdaptationSet oneOrMany[jsonAdaptationSet] `json:"adaptationSet"`
}

type jsonAdaptationSet struct {
	MimeType       string                        `json:"mimeType"`
	ContentType    string                        `json:"contentType"`
	BaseURL        jsonBaseURL                   `json:"baseURL"`
	Representation oneOrMany[jsonRepresentation] `json:"representation"`
}

type jsonRepresentation struct {
	MimeType  string      `json:"mimeType"`
	Width     flexInt     `json:"width"`
	Height    flexInt     `json:"height"`
	Bandwidth flexInt     `json:"bandwidth"`
	BaseURL   jsonBaseURL `json:"baseURL"`
}

func parseJSON(body []byte) (parsed, bool) {
	switch body[0] {
	case '"':
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return parsed{}, false
		}
		if u := plainURL([]byte(strings.TrimSpace(s))); u != "" {
			return parsed{kind: kindSingleURL, url: u}, true
		}
		return parsed{}, false
	case '{':
	default:
		return parsed{}, false
	}

	var doc jsonDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return parsed{}, false
	}
	for _, u := range []string{doc.URL, doc.PlaybackURL} {
		if u = plainURL([]byte(strings.TrimSpace(u))); u != "" {
			return parsed{kind: kindSingleURL, url: u}, true
		}
	}
	if doc.Period == nil {
		return parsed{}, false
	}

	var reps []representation
	for _, period := range doc.Period {
		for _, set := range period.AdaptationSet {
			setVideo := isVideo(set.MimeType, set.ContentType)
			for _, r := range set.Representation {
				src := resolveBase(doc.BaseURL.String(), period.BaseURL.String(), set.BaseURL.String(), r.BaseURL.String())
				reps = append(reps, representation{
					video:     setVideo || isVideo(r.MimeType, ""),
					width:     int(r.Width),
					height:    int(r.Height),
					bandwidth: int64(r.Bandwidth),
					url:       src,
				})
			}
		}
	}
	return parsed{kind: kindAdaptation, reps: reps}, true
}

// oneOrMany accepts either a single JSON object or an array of them.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*o = nil
		return nil
	}
	if b[0] == '[' {
		var many []T
		if err := json.Unmarshal(b, &many); err != nil {
			return err
		}
		*o = many
		return nil
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*o = []T{one}
	return nil
}

// flexInt accepts numbers and numeric strings; anything else decodes as 0.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(n)
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*f = flexInt(v)
		return nil
	}
	*f = 0
	return nil
}

// jsonBaseURL accepts "url", ["url"], [{"value": "url"}] and {"value": "url"}.
type jsonBaseURL string

func (u jsonBaseURL) String() string { return strings.TrimSpace(string(u)) }

func (u *jsonBaseURL) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*u = ""
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = jsonBaseURL(s)
	case '{':
		var v struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*u = jsonBaseURL(v.Value)
	case '[':
		var items []jsonBaseURL
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		for _, item := range items {
			if item.String() != "" {
				*u = item
				break
			}
		}
	}
	return nil
}

// XML form (MPEG-DASH MPD). Element names match regardless of namespace.

type mpdDocument struct {
	XMLName xml.Name    `xml:"MPD"`
	BaseURL string      `xml:"BaseURL"`
	Periods []mpdPeriod `xml:"Period"`
}

type mpdPeriod struct {
	BaseURL        string             `xml:"BaseURL"`
	AdaptationSets []mpdAdaptationSet `xml:"AdaptationSet"`
}

type mpdAdaptationSet struct {
	MimeType        string              `xml:"mimeType,attr"`
	ContentType     string              `xml:"contentType,attr"`
	BaseURL         string              `xml:"BaseURL"`
	Representations []mpdRepresentation `xml:"Representation"`
}

type mpdRepresentation struct {
	ID        string `xml:"id,attr"`
	MimeType  string `xml:"mimeType,attr"`
	Width     string `xml:"width,attr"`
	Height    string `xml:"height,attr"`
	Bandwidth string `xml:"bandwidth,attr"`
	BaseURL   string `xml:"BaseURL"`
}

func parseXML(body []byte) (parsed, bool) {
	if body[0] != '<' {
		return parsed{}, false
	}
	var doc mpdDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return parsed{}, false
	}

	var reps []representation
	for _, period := range doc.Periods {
		for _, set := range period.AdaptationSets {
			setVideo := isVideo(set.MimeType, set.ContentType)
			for _, r := range set.Representations {
				src := resolveBase(doc.BaseURL, period.BaseURL, set.BaseURL, r.BaseURL)
				reps = append(reps, representation{
					video:     setVideo || isVideo(r.MimeType, ""),
					width:     atoi(r.Width),
					height:    atoi(r.Height),
					bandwidth: int64(atoi(r.Bandwidth)),
					url:       src,
				})
			}
		}
	}
	return parsed{kind: kindAdaptation, reps: reps}, true
}

func isVideo(mimeType, contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "video/") ||
		strings.EqualFold(strings.TrimSpace(contentType), "video")
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// resolveBase resolves BaseURL levels outermost first, each one against the
// result so far. Empty levels inherit; an unparseable level ends the chain.
func resolveBase(levels ...string) string {
	var base *url.URL
	for _, level := range levels {
		level = strings.TrimSpace(level)
		if level == "" {
			continue
		}
		ref, err := url.Parse(level)
		if err != nil {
			return ""
		}
		if base == nil {
			base = ref
		} else {
			base = base.ResolveReference(ref)
		}
	}
	if base == nil {
		return ""
	}
	return base.String()
}
