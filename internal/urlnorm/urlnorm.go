// Package urlnorm canonicalizes source URLs into stable dedup keys.
package urlnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

type SourceType string

const (
	SourceYouTube SourceType = "youtube"
	SourceX       SourceType = "x"
	SourceReddit  SourceType = "reddit"
	SourceTikTok  SourceType = "tiktok"
	SourceOther   SourceType = "other"
)

var (
	ErrInvalidURL        = errors.New("invalid url")
	ErrUnsupportedSource = errors.New("unsupported source")
)

// Known hosts. Key: input host. Value: platform.
var sourceByHost = map[string]SourceType{
	"youtube.com":          SourceYouTube,
	"www.youtube.com":      SourceYouTube,
	"m.youtube.com":        SourceYouTube,
	"music.youtube.com":    SourceYouTube,
	"youtube-nocookie.com": SourceYouTube,
	"youtu.be":             SourceYouTube,

	"x.com":              SourceX,
	"www.x.com":          SourceX,
	"mobile.x.com":       SourceX,
	"twitter.com":        SourceX,
	"www.twitter.com":    SourceX,
	"mobile.twitter.com": SourceX,

	"reddit.com":     SourceReddit,
	"www.reddit.com": SourceReddit,
	"old.reddit.com": SourceReddit,
	"new.reddit.com": SourceReddit,
	"m.reddit.com":   SourceReddit,
	"redd.it":        SourceReddit,

	"tiktok.com":     SourceTikTok,
	"www.tiktok.com": SourceTikTok,
	"m.tiktok.com":   SourceTikTok,
	"vm.tiktok.com":  SourceTikTok,
}

// Query parameters that never identify content.
var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"msclkid": {},
	"twclid":  {},
	"ref":     {},
	"ref_src": {},
	"si":      {},
	"feature": {},
	"source":  {},
	"_ga":     {},
	"_gl":     {},
	"_hsenc":  {},
	"_hsmi":   {},
}

var (
	youtubeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	numericID        = regexp.MustCompile(`^[0-9]+$`)
	redditIDPattern  = regexp.MustCompile(`^[a-z0-9]+$`)
	handlePattern    = regexp.MustCompile(`^[A-Za-z0-9_]{1,50}$`)
	tiktokShortCode  = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// Result is the canonical form of a source URL.
type Result struct {
	SourceType    SourceType
	NormalizedURL string
	// ExternalID is the platform's content id when one could be extracted.
	ExternalID string
}

// Normalizer canonicalizes URLs. The zero value rejects unrecognized hosts.
type Normalizer struct {
	// AllowOther accepts any http(s) URL on an unrecognized host as SourceOther.
	AllowOther bool
}

// Normalize is Normalizer{}.Normalize.
func Normalize(raw string) (Result, error) {
	return Normalizer{}.Normalize(raw)
}

// Normalize maps raw to its canonical URL. It is pure: the same logical
// content reached through different URL shapes yields the same result.
func (n Normalizer) Normalize(raw string) (Result, error) {
	u, err := parse(raw)
	if err != nil {
		return Result{}, err
	}

	host := normalizeHost(u.Host)
	switch sourceByHost[host] {
	case SourceYouTube:
		return normalizeYouTube(host, u)
	case SourceX:
		return normalizeX(u)
	case SourceReddit:
		return normalizeReddit(host, u)
	case SourceTikTok:
		return normalizeTikTok(host, u)
	}

	if !n.AllowOther {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedSource, host)
	}
	return normalizeOther(host, u), nil
}

// DedupKey returns the hex SHA-256 of a normalized URL.
func DedupKey(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])
}

func parse(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: missing url", ErrInvalidURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if normalizeHost(u.Host) == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

func normalizeYouTube(host string, u *url.URL) (Result, error) {
	id := ""
	segs := pathSegments(u.Path)
	if host == "youtu.be" {
		if len(segs) > 0 {
			id = segs[0]
		}
	} else if v := u.Query().Get("v"); v != "" && (len(segs) == 0 || segs[0] == "watch") {
		id = v
	} else if len(segs) >= 2 {
		switch segs[0] {
		case "embed", "v", "shorts", "live":
			id = segs[1]
		}
	}

	if !youtubeIDPattern.MatchString(id) {
		return Result{}, fmt.Errorf("%w: no youtube video id in %q", ErrUnsupportedSource, u.String())
	}
	return Result{
		SourceType:    SourceYouTube,
		NormalizedURL: "https://www.youtube.com/watch?v=" + id,
		ExternalID:    id,
	}, nil
}

// normalizeX keys a post on its status id alone; the handle in the path is
// cosmetic and changes when the account is renamed.
func normalizeX(u *url.URL) (Result, error) {
	segs := pathSegments(u.Path)
	var id string
	switch {
	case len(segs) >= 4 && segs[0] == "i" && segs[1] == "web" && segs[2] == "status":
		id = segs[3]
	case len(segs) >= 3 && segs[0] == "i" && segs[1] == "status":
		id = segs[2]
	case len(segs) >= 3 && segs[1] == "status" && handlePattern.MatchString(segs[0]):
		id = segs[2]
	}
	if !numericID.MatchString(id) {
		return Result{}, fmt.Errorf("%w: no status id in %q", ErrUnsupportedSource, u.String())
	}
	return Result{
		SourceType:    SourceX,
		NormalizedURL: "https://x.com/i/status/" + id,
		ExternalID:    id,
	}, nil
}

// normalizeReddit keys a post on its id; the subreddit and slug are dropped.
func normalizeReddit(host string, u *url.URL) (Result, error) {
	segs := pathSegments(u.Path)
	id := ""
	switch {
	case host == "redd.it" && len(segs) == 1:
		id = segs[0]
	case host == "redd.it":
	case len(segs) >= 4 && segs[0] == "r" && segs[1] != "" && segs[2] == "comments":
		id = segs[3]
	case len(segs) >= 2 && segs[0] == "comments":
		id = segs[1]
	}
	id = strings.ToLower(id)
	if !redditIDPattern.MatchString(id) {
		return Result{}, fmt.Errorf("%w: no reddit post id in %q", ErrUnsupportedSource, u.String())
	}
	return Result{
		SourceType:    SourceReddit,
		NormalizedURL: "https://www.reddit.com/comments/" + id,
		ExternalID:    id,
	}, nil
}

func normalizeTikTok(host string, u *url.URL) (Result, error) {
	segs := pathSegments(u.Path)
	if host == "vm.tiktok.com" {
		if len(segs) == 1 && tiktokShortCode.MatchString(segs[0]) {
			return Result{
				SourceType:    SourceTikTok,
				NormalizedURL: "https://vm.tiktok.com/" + segs[0],
			}, nil
		}
		return Result{}, fmt.Errorf("%w: bad tiktok short link %q", ErrUnsupportedSource, u.String())
	}
	if len(segs) >= 3 && strings.HasPrefix(segs[0], "@") && segs[1] == "video" && numericID.MatchString(segs[2]) {
		user := strings.ToLower(segs[0])
		return Result{
			SourceType:    SourceTikTok,
			NormalizedURL: "https://www.tiktok.com/" + user + "/video/" + segs[2],
			ExternalID:    segs[2],
		}, nil
	}
	return Result{}, fmt.Errorf("%w: no tiktok video id in %q", ErrUnsupportedSource, u.String())
}

func normalizeOther(host string, u *url.URL) Result {
	for _, prefix := range []string{"www.", "m.", "mobile."} {
		host = strings.TrimPrefix(host, prefix)
	}

	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		lk := strings.ToLower(k)
		if _, drop := trackingParams[lk]; drop || strings.HasPrefix(lk, "utm_") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), q[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}

	out := url.URL{
		Scheme:   "https",
		Host:     host,
		Path:     trimTrailingSlash(u.Path),
		RawQuery: b.String(),
	}
	return Result{SourceType: SourceOther, NormalizedURL: out.String()}
}

func normalizeHost(hostport string) string {
	h := strings.TrimSpace(strings.ToLower(hostport))
	if h == "" {
		return ""
	}
	// url.URL.Host may include port.
	if strings.Contains(h, ":") {
		if parsed, err := url.Parse("//" + h); err == nil {
			if parsed.Hostname() != "" {
				h = parsed.Hostname()
			}
		}
	}
	return strings.TrimSuffix(h, ".")
}

func trimTrailingSlash(p string) string {
	// Collapse repeated slashes, then drop the trailing one.
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return strings.TrimRight(p, "/")
}

func pathSegments(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s = strings.TrimSpace(s); s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}
