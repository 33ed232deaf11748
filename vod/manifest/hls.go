package manifest

import (
	"fmt"
	"strings"

	"github.com/etherlabsio/go-m3u8/m3u8"
	"github.com/fzxiao233/VodFetch/vod/interfaces"
)

const streamInfTag = "#EXT-X-STREAM-INF:"

// fillBandwidth gives variants without BANDWIDTH a zero rank so one bad
// line does not reject the playlist.
func fillBandwidth(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, streamInfTag) && !strings.Contains(line, "BANDWIDTH=") {
			attrs := strings.TrimPrefix(line, streamInfTag)
			if strings.TrimSpace(attrs) == "" {
				lines[i] = streamInfTag + "BANDWIDTH=0"
			} else {
				lines[i] = streamInfTag + "BANDWIDTH=0," + attrs
			}
		}
	}
	return strings.Join(lines, "\n")
}

// ParseHls walks a master playlist. Audio groups are collected first so
// variants can reference groups declared after them. A repeated group
// keeps its last URI.
func ParseHls(manifestUrl string, body []byte) ([]*interfaces.MediaStream, error) {
	playlist, err := m3u8.ReadString(fillBandwidth(string(body)))
	if err != nil {
		return nil, fmt.Errorf("bad HLS playlist: %w: %v", interfaces.ErrNoStreams, err)
	}

	audioTracks := make(map[string]string)
	for _, i := range playlist.Items {
		item, ok := i.(*m3u8.MediaItem)
		if !ok || item.Type != "AUDIO" || item.URI == nil {
			continue
		}
		audioTracks[item.GroupID] = resolveUrl(manifestUrl, cleanUrl(*item.URI))
	}

	var streams []*interfaces.MediaStream
	for _, i := range playlist.Items {
		item, ok := i.(*m3u8.PlaylistItem)
		if !ok || item.IFrame {
			continue
		}
		videoUrl := cleanUrl(item.URI)
		if videoUrl == "" {
			continue
		}
		stream := &interfaces.MediaStream{
			Bandwidth:  int64(item.Bandwidth),
			Resolution: "unknown",
			VideoUrl:   resolveUrl(manifestUrl, videoUrl),
			Codecs:     "unknown",
		}
		if item.Resolution != nil {
			stream.Resolution = fmt.Sprintf("%dx%d", item.Resolution.Width, item.Resolution.Height)
		}
		if item.Codecs != nil && *item.Codecs != "" {
			stream.Codecs = *item.Codecs
		}
		if item.Audio != nil {
			stream.AudioUrl = audioTracks[*item.Audio]
		}
		streams = append(streams, stream)
	}
	if len(streams) == 0 {
		return nil, fmt.Errorf("no variant in HLS playlist: %w", interfaces.ErrNoStreams)
	}
	return streams, nil
}
