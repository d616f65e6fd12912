// Package chzzk is a small client for the chzzk live and VOD service API.
package chzzk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the chzzk service API.
	DefaultBaseURL = "https://api.chzzk.naver.com"
	// DefaultPlaybackBaseURL serves VOD playback documents.
	DefaultPlaybackBaseURL = "https://apis.naver.com/neonplayer/vodplay/v2/playback"
	// LiveURLPrefix is the public watch page a capture tool is pointed at.
	LiveURLPrefix = "https://chzzk.naver.com/live/"

	// StatusOpen is the live-detail status of a channel that is broadcasting.
	StatusOpen = "OPEN"

	defaultTimeout        = 10 * time.Second
	defaultRateLimit      = 4
	defaultRateLimitBurst = 4
	maxBodyBytes          = 8 << 20

	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
	acceptLanguage = "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7"
	webOrigin      = "https://chzzk.naver.com"
)

var (
	// ErrInvalidChannelID is returned for identifiers that are not 32 hex digits.
	ErrInvalidChannelID = errors.New("chzzk: invalid channel id")
	// ErrNoContent is returned when the API answers code 200 without content.
	ErrNoContent = errors.New("chzzk: empty content")

	channelIDPattern  = regexp.MustCompile(`^[a-f0-9]{32}$`)
	channelURLPattern = regexp.MustCompile(`chzzk\.naver\.com/(?:live/)?([a-f0-9]{32})`)
)

// StatusError is returned when the API answers with a non-2xx status or a
// non-200 envelope code.
type StatusError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("chzzk: api code %d (http %d): %s", e.Code, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("chzzk: http status %d", e.HTTPStatus)
}

// Cookies are the NID session cookies that gate adult and subscriber content.
type Cookies struct {
	NIDAut string
	NIDSes string
}

// Empty reports whether neither cookie is set.
func (c Cookies) Empty() bool {
	return c.NIDAut == "" && c.NIDSes == ""
}

// Options configures a Client.
type Options struct {
	BaseURL         string
	PlaybackBaseURL string
	Timeout         time.Duration
	RateLimit       rate.Limit
	RateLimitBurst  int
	HTTPClient      *http.Client
}

// Client talks to the chzzk API. All requests share one rate limiter.
type Client struct {
	baseURL     string
	playbackURL string
	http        *http.Client
	limiter     *rate.Limiter
}

// NewClient returns a Client with default options.
func NewClient() *Client {
	return NewClientWithOptions(Options{})
}

// NewClientWithOptions returns a Client configured by opts.
func NewClientWithOptions(opts Options) *Client {
	opts = normalizeOptions(opts)
	return &Client{
		baseURL:     opts.BaseURL,
		playbackURL: opts.PlaybackBaseURL,
		http:        opts.HTTPClient,
		limiter:     rate.NewLimiter(opts.RateLimit, opts.RateLimitBurst),
	}
}

func normalizeOptions(opts Options) Options {
	opts.BaseURL = strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.PlaybackBaseURL = strings.TrimRight(strings.TrimSpace(opts.PlaybackBaseURL), "/")
	if opts.PlaybackBaseURL == "" {
		opts.PlaybackBaseURL = DefaultPlaybackBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(defaultRateLimit)
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateLimitBurst
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	return opts
}

// ValidChannelID reports whether id is a 32 digit lowercase hex channel id.
func ValidChannelID(id string) bool {
	return channelIDPattern.MatchString(id)
}

// ExtractChannelID pulls the channel id out of a channel or live page URL.
// A bare id is accepted as is.
func ExtractChannelID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if ValidChannelID(raw) {
		return raw, nil
	}
	if m := channelURLPattern.FindStringSubmatch(raw); m != nil {
		return m[1], nil
	}
	return "", ErrInvalidChannelID
}

// LiveURL returns the watch page for a channel.
func LiveURL(channelID string) string {
	return LiveURLPrefix + channelID
}

// PlaybackURL builds the neonplayer playback document URL for a VOD.
func PlaybackURL(base, videoID, inKey string) string {
	if base == "" {
		base = DefaultPlaybackBaseURL
	}
	u := strings.TrimRight(base, "/") + "/" + url.PathEscape(videoID)
	if inKey != "" {
		u += "?key=" + url.QueryEscape(inKey)
	}
	return u
}

type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Content *T     `json:"content"`
}

// LiveDetail is the subset of the live-detail payload the recorder uses.
type LiveDetail struct {
	Status      string `json:"status"`
	LiveTitle   string `json:"liveTitle"`
	Category    string `json:"liveCategoryValue"`
	LiveID      int64  `json:"liveId"`
	OpenDate    string `json:"openDate"`
	Adult       bool   `json:"adult"`
	ChannelName string `json:"-"`

	Channel struct {
		ChannelID   string `json:"channelId"`
		ChannelName string `json:"channelName"`
	} `json:"channel"`
}

// Open reports whether the channel is broadcasting.
func (d *LiveDetail) Open() bool {
	return d != nil && d.Status == StatusOpen
}

// LiveDetail fetches the live status of a channel. A code 200 answer with no
// content means the channel has never broadcast and is reported as closed.
func (c *Client) LiveDetail(ctx context.Context, channelID string, cookies Cookies) (*LiveDetail, error) {
	if !ValidChannelID(channelID) {
		return nil, ErrInvalidChannelID
	}
	var env envelope[LiveDetail]
	path := "/service/v3/channels/" + channelID + "/live-detail"
	if err := c.getJSON(ctx, c.baseURL+path, cookies, &env); err != nil {
		return nil, err
	}
	if env.Content == nil {
		return &LiveDetail{Status: "CLOSE"}, nil
	}
	d := env.Content
	d.ChannelName = d.Channel.ChannelName
	return d, nil
}

type channelInfo struct {
	ChannelID   string `json:"channelId"`
	ChannelName string `json:"channelName"`
}

// ChannelName resolves the display name of a channel.
func (c *Client) ChannelName(ctx context.Context, channelID string, cookies Cookies) (string, error) {
	if !ValidChannelID(channelID) {
		return "", ErrInvalidChannelID
	}
	var env envelope[channelInfo]
	if err := c.getJSON(ctx, c.baseURL+"/service/v1/channels/"+channelID, cookies, &env); err != nil {
		return "", err
	}
	if env.Content == nil || strings.TrimSpace(env.Content.ChannelName) == "" {
		return "", ErrNoContent
	}
	return strings.TrimSpace(env.Content.ChannelName), nil
}

type videoInfo struct {
	VideoNo    int64  `json:"videoNo"`
	VideoID    string `json:"videoId"`
	VideoTitle string `json:"videoTitle"`
	InKey      string `json:"inKey"`
}

// Playback is a VOD playback document as served, before interpretation.
type Playback struct {
	VideoNo     int64
	VideoID     string
	InKey       string
	Title       string
	Body        []byte
	ContentType string
}

// VideoPlayback looks up a VOD and downloads its playback document.
func (c *Client) VideoPlayback(ctx context.Context, videoNo int64, cookies Cookies) (*Playback, error) {
	var env envelope[videoInfo]
	if err := c.getJSON(ctx, fmt.Sprintf("%s/service/v2/videos/%d", c.baseURL, videoNo), cookies, &env); err != nil {
		return nil, err
	}
	if env.Content == nil || env.Content.VideoID == "" {
		return nil, ErrNoContent
	}
	info := env.Content

	resp, err := c.do(ctx, PlaybackURL(c.playbackURL, info.VideoID, info.InKey), "application/dash+xml, application/json;q=0.9, */*;q=0.5", cookies)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("chzzk: read playback: %w", err)
	}
	return &Playback{
		VideoNo:     videoNo,
		VideoID:     info.VideoID,
		InKey:       info.InKey,
		Title:       info.VideoTitle,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// PlaybackURL returns the playback document URL for videoID on this client.
func (c *Client) PlaybackURL(videoID, inKey string) string {
	return PlaybackURL(c.playbackURL, videoID, inKey)
}

func (c *Client) getJSON(ctx context.Context, rawURL string, cookies Cookies, v any) error {
	resp, err := c.do(ctx, rawURL, "application/json", cookies)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("chzzk: read body: %w", err)
	}
	var head struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return fmt.Errorf("chzzk: decode: %w", err)
	}
	if head.Code != http.StatusOK {
		return &StatusError{HTTPStatus: resp.StatusCode, Code: head.Code, Message: head.Message}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("chzzk: decode content: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, rawURL, accept string, cookies Cookies) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	applyHeaders(req, accept, cookies)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chzzk: request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		_ = resp.Body.Close()
		return nil, &StatusError{HTTPStatus: resp.StatusCode}
	}
	return resp, nil
}

func applyHeaders(req *http.Request, accept string, cookies Cookies) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", acceptLanguage)
	req.Header.Set("Origin", webOrigin)
	req.Header.Set("Referer", webOrigin+"/")
	if cookies.NIDAut != "" {
		req.AddCookie(&http.Cookie{Name: "NID_AUT", Value: cookies.NIDAut})
	}
	if cookies.NIDSes != "" {
		req.AddCookie(&http.Cookie{Name: "NID_SES", Value: cookies.NIDSes})
	}
}
