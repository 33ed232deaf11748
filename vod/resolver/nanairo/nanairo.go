package nanairo

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/bitly/go-simplejson"
	"github.com/fzxiao233/VodFetch/utils"
	"github.com/fzxiao233/VodFetch/vod/interfaces"
	"github.com/fzxiao233/VodFetch/vod/resolver/base"
	log "github.com/sirupsen/logrus"
)

const DefaultBaseUrl = "https://nanairo.co"

const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36"

var pageHeaders = map[string]string{
	"User-Agent":         BrowserUserAgent,
	"Accept":             "*/*",
	"Accept-Language":    "zh-CN,zh;q=0.9,zh-TW;q=0.8",
	"Sec-Fetch-Site":     "same-origin",
	"Sec-Fetch-Mode":     "cors",
	"Sec-Fetch-Dest":     "empty",
	"sec-ch-ua":          `"Not(A:Brand";v="8", "Chromium";v="144", "Google Chrome";v="144"`,
	"sec-ch-ua-mobile":   "?0",
	"sec-ch-ua-platform": `"Windows"`,
	"DNT":                "1",
	"Priority":           "u=1, i",
}

var (
	titleRe      = regexp.MustCompile(`<title>([^<]+)</title>`)
	siteSuffixRe = regexp.MustCompile(`(?i)\s*[-|]\s*nanairo.*$`)
	kanaSuffixRe = regexp.MustCompile(`\s*[-|]\s*ナナイロ.*$`)
)

type Nanairo struct {
	base.BaseResolver
	BaseUrl    string
	Language   string
	Cookie     string
	StripEmoji bool
}

func New(ctx base.ResolverCtx, language string, cookie string, stripEmoji bool) *Nanairo {
	if language == "" {
		language = "ja"
	}
	return &Nanairo{
		BaseResolver: base.BaseResolver{Ctx: ctx},
		BaseUrl:      DefaultBaseUrl,
		Language:     language,
		Cookie:       cookie,
		StripEmoji:   stripEmoji,
	}
}

// PageUrl is also the Referer for every later request about the video.
func (n *Nanairo) PageUrl(id string) string {
	return fmt.Sprintf("%s/%s/videos/%s", n.BaseUrl, n.Language, id)
}

// Headers returns the browser header set with the session cookie.
func (n *Nanairo) Headers(id string) map[string]string {
	headers := make(map[string]string, len(pageHeaders)+3)
	for k, v := range pageHeaders {
		headers[k] = v
	}
	if n.Cookie != "" {
		headers["Cookie"] = n.Cookie
	}
	if id != "" {
		headers["Referer"] = n.PageUrl(id)
	}
	return headers
}

// ExtractTitle returns the sanitized page title, or the sanitized id when none is usable.
func ExtractTitle(page string, id string, stripEmoji bool) string {
	if m := titleRe.FindStringSubmatch(page); m != nil {
		title := strings.TrimSpace(html.UnescapeString(m[1]))
		title = siteSuffixRe.ReplaceAllString(title, "")
		title = kanaSuffixRe.ReplaceAllString(title, "")
		if title != "" {
			if title = utils.RemoveIllegalChar(title, stripEmoji); title != "" {
				return title
			}
		}
	}
	return utils.RemoveIllegalChar(id, false)
}

func (n *Nanairo) startPlayer(ctx context.Context, id string) (string, error) {
	headers := n.Headers(id)
	headers["Origin"] = n.BaseUrl
	headers["Content-Type"] = "application/json"

	reqCtx, cancel := context.WithTimeout(ctx, base.ApiTimeout)
	defer cancel()
	body, err := n.Ctx.HttpPut(reqCtx, fmt.Sprintf("%s/player/%s/start", n.BaseUrl, id), headers, nil)
	if err != nil {
		return "", base.WrapHttpErr("player start", err)
	}
	js, err := simplejson.NewJson(body)
	if err != nil {
		return "", fmt.Errorf("player start is not json: %w: %v", interfaces.ErrTransient, err)
	}
	if !js.Get("success").MustBool() {
		return "", fmt.Errorf("player start returned error %s: %w", body, interfaces.ErrNotFound)
	}
	token := js.GetPath("data", "segmentToken").MustString()
	if token == "" {
		return "", fmt.Errorf("no segmentToken in player response: %w", interfaces.ErrNotFound)
	}
	return token, nil
}

func (n *Nanairo) Resolve(ctx context.Context, video *interfaces.VideoInfo) (*interfaces.ResolvedTarget, error) {
	logger := log.WithField("video", video)

	reqCtx, cancel := context.WithTimeout(ctx, base.ApiTimeout)
	page, err := n.Ctx.HttpGet(reqCtx, n.PageUrl(video.Id), n.Headers(""))
	cancel()
	if err != nil {
		return nil, base.WrapHttpErr("video page", err)
	}
	title := ExtractTitle(string(page), video.Id, n.StripEmoji)
	logger.Infof("Video title: %s", title)

	token, err := n.startPlayer(ctx, video.Id)
	if err != nil {
		return nil, err
	}
	manifestUrl := fmt.Sprintf("%s/videos/%s/cmaf/sdr/%s/index.m3u8", n.BaseUrl, video.Id, token)
	logger.Infof("Found m3u8 URL: %s", manifestUrl)
	return &interfaces.ResolvedTarget{
		CanonicalId: video.Id,
		ManifestUrl: manifestUrl,
		Title:       title,
		Referer:     n.PageUrl(video.Id),
	}, nil
}
