package mgstage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bitly/go-simplejson"
	"github.com/fzxiao233/VodFetch/vod/interfaces"
	"github.com/fzxiao233/VodFetch/vod/resolver/base"
	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const DefaultApiBase = "https://mgsplayer-api.mgstage.jp/api/v1"

const PlayerUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) mgsplayer/1.2.3 Chrome/140.0.7339.41 Electron/38.0.0 Safari/537.36"

var apiHeaders = map[string]string{
	"User-Agent":         PlayerUserAgent,
	"Accept":             "application/json, text/plain, */*",
	"Accept-Language":    "jp-JP",
	"Sec-Fetch-Site":     "cross-site",
	"Sec-Fetch-Mode":     "cors",
	"Sec-Fetch-Dest":     "empty",
	"sec-ch-ua":          `"Not=A?Brand";v="24", "Chromium";v="140"`,
	"sec-ch-ua-mobile":   "?0",
	"sec-ch-ua-platform": `"Windows"`,
	"player-type":        "1",
	"priority":           "u=1, i",
}

// DownloadHeaders are sent with manifest and media requests.
var DownloadHeaders = map[string]string{
	"User-Agent":      PlayerUserAgent,
	"Accept-Encoding": "identity",
	"Accept-Language": "jp-JP",
	"Sec-Fetch-Site":  "none",
	"Sec-Fetch-Mode":  "no-cors",
	"Sec-Fetch-Dest":  "empty",
	"priority":        "u=4, i",
}

type Identity struct {
	Uid           string
	DeviceId      string
	ShopId        string
	Quality       string
	PlayerVersion string
}

type Mgstage struct {
	base.BaseResolver
	ApiBase  string
	Identity Identity
	// Now stamps the last-update header.
	Now      func() time.Time
	pidCache *lru.Cache
}

func New(ctx base.ResolverCtx, identity Identity) *Mgstage {
	cache, _ := lru.New(1024)
	return &Mgstage{
		BaseResolver: base.BaseResolver{Ctx: ctx},
		ApiBase:      DefaultApiBase,
		Identity:     identity,
		Now:          time.Now,
		pidCache:     cache,
	}
}

func (m *Mgstage) getApiHeaders(extra map[string]string) map[string]string {
	headers := make(map[string]string, len(apiHeaders)+6)
	for k, v := range apiHeaders {
		headers[k] = v
	}
	headers["uid"] = m.Identity.Uid
	headers["device-id"] = m.Identity.DeviceId
	headers["player-version"] = m.Identity.PlayerVersion
	headers["last-update"] = m.Now().Format("20060102150405")
	for k, v := range extra {
		headers[k] = v
	}
	return headers
}

type searchHit struct {
	Pid   string
	Title string
}

// pickContent keeps the first entry with a pid, falling back to the first
// entry. The fallback has no pid; search reports it as not found with its
// title so the operator can see what the catalog matched.
func pickContent(body []byte) (*searchHit, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("search response is not json: %w", interfaces.ErrTransient)
	}
	result := gjson.ParseBytes(body)
	contents := result.Get("contents").Array()
	if result.Get("hits").Int() <= 0 || len(contents) == 0 {
		return nil, interfaces.ErrNotFound
	}
	chosen := contents[0]
	for _, content := range contents {
		if content.Get("pid").String() != "" {
			chosen = content
			break
		}
	}
	return &searchHit{
		Pid:   chosen.Get("pid").String(),
		Title: chosen.Get("title").String(),
	}, nil
}

func (m *Mgstage) search(ctx context.Context, cid string) (*searchHit, error) {
	cacheKey := strings.ToLower(cid)
	if cached, ok := m.pidCache.Get(cacheKey); ok {
		return cached.(*searchHit), nil
	}
	params := url.Values{}
	params.Set("word", cid)
	params.Set("size", "100")
	params.Set("offset", "0")
	params.Set("sort", "new")
	params.Set("shop_id", m.Identity.ShopId)

	reqCtx, cancel := context.WithTimeout(ctx, base.ApiTimeout)
	defer cancel()
	body, err := m.Ctx.HttpGet(reqCtx, m.ApiBase+"/list/monthly/search?"+params.Encode(), m.getApiHeaders(nil))
	if err != nil {
		return nil, base.WrapHttpErr("search", err)
	}
	hit, err := pickContent(body)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", cid, err)
	}
	if hit.Pid == "" {
		return nil, fmt.Errorf("search %s matched %q without a pid: %w", cid, hit.Title, interfaces.ErrNotFound)
	}
	m.pidCache.Add(cacheKey, hit)
	return hit, nil
}

func (m *Mgstage) playInfo(ctx context.Context, pid string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, base.ApiTimeout)
	defer cancel()
	body, err := m.Ctx.HttpGet(reqCtx, m.ApiBase+"/detail/play/monthly/content", m.getApiHeaders(map[string]string{
		"pid":     pid,
		"quality": m.Identity.Quality,
	}))
	if err != nil {
		return "", base.WrapHttpErr("play info", err)
	}
	js, err := simplejson.NewJson(body)
	if err != nil {
		return "", fmt.Errorf("play info is not json: %w: %v", interfaces.ErrTransient, err)
	}
	manifestUrl := js.Get("manifest_url").MustString()
	if manifestUrl == "" {
		return "", fmt.Errorf("no manifest_url for pid %s: %w", pid, interfaces.ErrNotFound)
	}
	return manifestUrl, nil
}

func (m *Mgstage) Resolve(ctx context.Context, video *interfaces.VideoInfo) (*interfaces.ResolvedTarget, error) {
	logger := log.WithField("video", video)
	hit, err := m.search(ctx, video.Id)
	if err != nil {
		return nil, err
	}
	logger.Infof("Found video: %s -> pid: %s", video.Id, hit.Pid)

	manifestUrl, err := m.playInfo(ctx, hit.Pid)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Got play info: %s", manifestUrl)
	return &interfaces.ResolvedTarget{
		CanonicalId: hit.Pid,
		ManifestUrl: manifestUrl,
		Title:       hit.Title,
	}, nil
}
