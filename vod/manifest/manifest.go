package manifest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/fzxiao233/VodFetch/utils"
	"github.com/fzxiao233/VodFetch/vod/interfaces"
	"github.com/fzxiao233/VodFetch/vod/resolver/base"
)

type Dialect int

const (
	DialectUnknown Dialect = iota
	DialectDash
	DialectHls
)

func (d Dialect) String() string {
	switch d {
	case DialectDash:
		return "dash"
	case DialectHls:
		return "hls"
	}
	return "unknown"
}

// Sniff guesses the dialect from the first bytes, then from the url suffix.
func Sniff(manifestUrl string, body []byte) Dialect {
	head := bytes.TrimSpace(body)
	head = bytes.TrimPrefix(head, []byte("\xef\xbb\xbf"))
	if len(head) > 512 {
		head = head[:512]
	}
	switch {
	case bytes.HasPrefix(head, []byte("#EXTM3U")):
		return DialectHls
	case bytes.Contains(head, []byte("<MPD")), bytes.HasPrefix(head, []byte("<?xml")), bytes.Contains(head, []byte("<BaseURL")):
		return DialectDash
	}
	p := manifestUrl
	if u, err := url.Parse(manifestUrl); err == nil {
		p = u.Path
	}
	p = strings.ToLower(p)
	switch {
	case strings.HasSuffix(p, ".m3u8"):
		return DialectHls
	case strings.HasSuffix(p, ".mpd"):
		return DialectDash
	}
	return DialectUnknown
}

// Parse dispatches to exactly one dialect parser.
func Parse(manifestUrl string, body []byte) ([]*interfaces.MediaStream, error) {
	switch Sniff(manifestUrl, body) {
	case DialectDash:
		return ParseDash(manifestUrl, body)
	case DialectHls:
		return ParseHls(manifestUrl, body)
	}
	return nil, fmt.Errorf("unrecognized manifest format: %w", interfaces.ErrNoStreams)
}

// SelectBest returns the highest bandwidth stream, the earliest on ties.
func SelectBest(streams []*interfaces.MediaStream) *interfaces.MediaStream {
	var best *interfaces.MediaStream
	for _, s := range streams {
		if best == nil || s.Bandwidth > best.Bandwidth {
			best = s
		}
	}
	return best
}

type Loader struct {
	Client  *http.Client
	Headers map[string]string
}

// Load fetches manifestUrl and returns its best stream.
func (l *Loader) Load(ctx context.Context, manifestUrl string, header map[string]string) (*interfaces.MediaStream, error) {
	finalHeaders := make(map[string]string, len(l.Headers)+len(header))
	for k, v := range l.Headers {
		finalHeaders[k] = v
	}
	for k, v := range header {
		finalHeaders[k] = v
	}
	reqCtx, cancel := context.WithTimeout(ctx, base.ApiTimeout)
	defer cancel()
	body, err := utils.HttpGet(reqCtx, l.Client, manifestUrl, finalHeaders)
	if err != nil {
		return nil, base.WrapHttpErr("manifest", err)
	}
	streams, err := Parse(manifestUrl, body)
	if err != nil {
		return nil, err
	}
	return SelectBest(streams), nil
}

func cleanUrl(s string) string {
	s = strings.TrimSpace(s)
	return strings.ReplaceAll(s, " ", "")
}

func resolveUrl(manifestUrl string, ref string) string {
	if ref == "" || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	baseUrl, err := url.Parse(manifestUrl)
	if err != nil {
		return ref
	}
	refUrl, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseUrl.ResolveReference(refUrl).String()
}
