package vod

import (
	"fmt"

	"github.com/fzxiao233/VodFetch/config"
	"github.com/fzxiao233/VodFetch/utils"
	"github.com/fzxiao233/VodFetch/vod/interfaces"
	"github.com/fzxiao233/VodFetch/vod/manifest"
	"github.com/fzxiao233/VodFetch/vod/plugins"
	"github.com/fzxiao233/VodFetch/vod/resolver"
	"github.com/fzxiao233/VodFetch/vod/resolver/base"
	"github.com/fzxiao233/VodFetch/vod/resolver/mgstage"
	"github.com/fzxiao233/VodFetch/vod/resolver/nanairo"
	"github.com/fzxiao233/VodFetch/vod/videoworker"
	"github.com/fzxiao233/VodFetch/vod/videoworker/downloader/provbase"
	"github.com/fzxiao233/VodFetch/vod/videoworker/downloader/provgo"
	"github.com/fzxiao233/VodFetch/vod/videoworker/downloader/provsegment"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

func mergeHeaders(base map[string]string, extra map[string]string) map[string]string {
	ret := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		ret[k] = v
	}
	for k, v := range extra {
		ret[k] = v
	}
	return ret
}

// NewPipeline wires the components for conf.Site. The returned func
// releases connections held by plugins.
func NewPipeline(conf *config.MainConfig) (*videoworker.Pipeline, func(), error) {
	res, err := resolver.CreateResolver(conf)
	if err != nil {
		return nil, nil, err
	}
	manifestClient, err := base.CreateHttpClient(conf.Proxy, base.ApiTimeout)
	if err != nil {
		return nil, nil, err
	}
	for _, dir := range []string{conf.OutputDir, conf.DecryptedDir, conf.TempDir} {
		if dir == "" {
			continue
		}
		if err = utils.MakeDir(dir); err != nil {
			return nil, nil, err
		}
	}

	p := &videoworker.Pipeline{
		Site:      conf.Site,
		Resolver:  res,
		Manifest:  &manifest.Loader{Client: manifestClient},
		OutputDir: conf.OutputDir,
	}
	extraHeaders := res.GetCtx().GetHeaders()
	switch r := res.(type) {
	case *mgstage.Mgstage:
		p.Manifest.Headers = mergeHeaders(mgstage.DownloadHeaders, extraHeaders)
		fetcher, err := provgo.NewDownloaderGo(conf.Proxy, mgstage.DownloadHeaders)
		if err != nil {
			return nil, nil, err
		}
		p.Fetcher = &provbase.Downloader{Prov: fetcher}
		p.Decryptor = &videoworker.Decryptor{
			ToolPath: conf.ResolveToolPath(conf.DecryptToolPath),
			TempDir:  conf.TempDir,
			FinalDir: conf.DecryptedDir,
			SiteTag:  conf.SiteTag,
			ShopId:   conf.ShopId,
			Username: conf.SiteUsername,
			Password: conf.SitePassword,
			Sem:      semaphore.NewWeighted(int64(conf.MaxToolProcs)),
		}
	case *nanairo.Nanairo:
		p.Manifest.Headers = extraHeaders
		p.ManifestHeaders = func(video *interfaces.VideoInfo, target *interfaces.ResolvedTarget) map[string]string {
			return r.Headers(video.Id)
		}
		p.External = &provbase.Downloader{Prov: &provsegment.DownloaderSegment{
			ToolPath:    conf.ResolveToolPath(conf.SegmentToolPath),
			Proxy:       conf.Proxy,
			Cookie:      conf.Cookie,
			UserAgent:   nanairo.BrowserUserAgent,
			ExtraArgs:   conf.SegmentToolArgs,
			Passthrough: true,
		}}
	default:
		return nil, nil, fmt.Errorf("no pipeline for site %s", conf.Site)
	}

	cleanup := func() {}
	if conf.RedisHost != "" {
		pub := utils.NewPublisher(conf.RedisHost)
		p.Plugins.AddPlugin(&plugins.PluginPublisher{Pub: pub, Channel: plugins.DefaultChannel})
		log.Infof("Publishing job events to redis %s", conf.RedisHost)
		cleanup = func() {
			_ = pub.Close()
		}
	}
	return p, cleanup, nil
}
