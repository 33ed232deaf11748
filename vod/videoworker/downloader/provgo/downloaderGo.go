package provgo

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/fzxiao233/VodFetch/vod/resolver/base"
)

// NewDownloaderGo builds a downloader with no overall deadline since
// bodies can be large. Stalled servers are cut by the header timeout
// and by the per-read idle timeout.
func NewDownloaderGo(proxy string, headers map[string]string) (*DownloaderGo, error) {
	client, err := base.CreateHttpClient(proxy, 0)
	if err != nil {
		return nil, err
	}
	if t, ok := client.Transport.(*http.Transport); ok {
		t.ResponseHeaderTimeout = 60 * time.Second
	}
	return &DownloaderGo{
		Client:      client,
		Headers:     headers,
		ChunkSize:   DefaultChunkSize,
		IdleTimeout: DefaultIdleTimeout,
	}, nil
}

func dirOf(p string) string {
	return filepath.Dir(p)
}
