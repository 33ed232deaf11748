package manifest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"41.neocities.org/luna/dash"
	"github.com/fzxiao233/VodFetch/vod/interfaces"
)

var (
	videoBitrateRe = regexp.MustCompile(`_(\d+)\.mp4`)
	audioMarkerRe  = regexp.MustCompile(`_audio\.mp4`)
	baseUrlRe      = regexp.MustCompile(`(?s)<BaseURL([^>]*)>(.*?)</BaseURL>`)
	cdataRe        = regexp.MustCompile(`(?s)^\s*<!\[CDATA\[(.*)\]\]>\s*$`)
)

// normalizeBaseUrls unwraps CDATA blocks and strips whitespace inside
// every BaseURL so the parsed tree holds usable URLs.
func normalizeBaseUrls(body []byte) []byte {
	return baseUrlRe.ReplaceAllFunc(body, func(m []byte) []byte {
		sub := baseUrlRe.FindSubmatch(m)
		text := sub[2]
		if c := cdataRe.FindSubmatch(text); c != nil {
			var esc bytes.Buffer
			_ = xml.EscapeText(&esc, []byte(cleanUrl(string(c[1]))))
			text = esc.Bytes()
		} else {
			text = []byte(cleanUrl(string(text)))
		}
		var out bytes.Buffer
		out.WriteString("<BaseURL")
		out.Write(sub[1])
		out.WriteString(">")
		out.Write(text)
		out.WriteString("</BaseURL>")
		return out.Bytes()
	})
}

// ParseDash extracts one stream per video-tagged representation. Every
// stream shares the first audio-tagged BaseURL, if any.
func ParseDash(manifestUrl string, body []byte) ([]*interfaces.MediaStream, error) {
	mpd, err := dash.Parse(normalizeBaseUrls(body))
	if err != nil {
		return nil, fmt.Errorf("bad DASH manifest: %w: %v", interfaces.ErrNoStreams, err)
	}
	mpd.MpdUrl, err = url.Parse(manifestUrl)
	if err != nil {
		return nil, fmt.Errorf("bad manifest url %s: %w: %v", manifestUrl, interfaces.ErrNoStreams, err)
	}

	var (
		streams  []*interfaces.MediaStream
		audioUrl string
		seen     = make(map[string]struct{})
	)
	for _, period := range mpd.Period {
		for _, set := range period.AdaptationSet {
			for _, rep := range set.Representation {
				base, err := rep.ResolveBaseUrl()
				if err != nil || base == nil {
					continue
				}
				u := base.String()
				if _, dup := seen[u]; dup {
					continue
				}
				seen[u] = struct{}{}
				if audioMarkerRe.MatchString(u) {
					if audioUrl == "" {
						audioUrl = u
					}
					continue
				}
				matches := videoBitrateRe.FindAllStringSubmatch(u, -1)
				if matches == nil {
					continue
				}
				bitrate, err := strconv.ParseInt(matches[len(matches)-1][1], 10, 64)
				if err != nil {
					continue
				}
				streams = append(streams, &interfaces.MediaStream{
					Bandwidth:  bitrate,
					Resolution: "unknown",
					VideoUrl:   u,
					Codecs:     "unknown",
				})
			}
		}
	}
	if len(streams) == 0 {
		return nil, fmt.Errorf("no video BaseURL in DASH manifest: %w", interfaces.ErrNoStreams)
	}
	for _, s := range streams {
		s.AudioUrl = audioUrl
	}
	return streams, nil
}
