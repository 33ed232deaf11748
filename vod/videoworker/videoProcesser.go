package videoworker

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fzxiao233/VodFetch/utils"
	"github.com/fzxiao233/VodFetch/vod/interfaces"
	"github.com/fzxiao233/VodFetch/vod/manifest"
	"github.com/fzxiao233/VodFetch/vod/resolver/base"
	"github.com/fzxiao233/VodFetch/vod/videoworker/downloader/provbase"
	log "github.com/sirupsen/logrus"
)

// ProcessVideo is one identifier's trip through the pipeline.
type ProcessVideo struct {
	Video     *interfaces.VideoInfo
	Target    *interfaces.ResolvedTarget
	Stream    *interfaces.MediaStream
	StartTime time.Time
	Err       error
}

func (p *ProcessVideo) Succeeded() bool {
	return p.Video.Status == interfaces.StatusSucceeded
}

// Pipeline runs resolve, parse, fetch and finalize for one site.
type Pipeline struct {
	Site     string
	Resolver base.Resolver
	Manifest *manifest.Loader
	// ManifestHeaders adds per-video headers to the manifest request.
	ManifestHeaders func(video *interfaces.VideoInfo, target *interfaces.ResolvedTarget) map[string]string
	// Fetcher pulls the video and audio legs directly.
	Fetcher *provbase.Downloader
	// External replaces Fetcher with a tool that fetches and muxes the manifest itself.
	External  *provbase.Downloader
	Decryptor *Decryptor
	OutputDir string
	Plugins   PluginManager
}

func (p *Pipeline) setStatus(pv *ProcessVideo, status interfaces.JobStatus) {
	pv.Video.Status = status
	log.WithField("video", pv.Video).Debugf("-> %s", status)
}

// BaseName is the file stem used for a job's outputs.
func (p *Pipeline) BaseName(video *interfaces.VideoInfo) string {
	if p.External != nil {
		if video.Title != "" && video.Title != video.Id {
			return video.Id + "_" + video.Title
		}
		return video.Id
	}
	return strings.ToUpper(video.Id)
}

// Process runs one identifier to a terminal status. The returned error
// wraps one of the interfaces sentinels.
func (p *Pipeline) Process(ctx context.Context, id string) error {
	pv := &ProcessVideo{
		Video:     &interfaces.VideoInfo{Id: id, Site: p.Site, Status: interfaces.StatusPending},
		StartTime: time.Now(),
	}
	p.Plugins.OnJobStart(pv)
	pv.Err = p.process(ctx, pv)
	if pv.Err != nil {
		p.setStatus(pv, interfaces.StatusFailed)
	} else {
		p.setStatus(pv, interfaces.StatusSucceeded)
	}
	p.Plugins.OnJobEnd(pv)
	return pv.Err
}

func (p *Pipeline) process(ctx context.Context, pv *ProcessVideo) error {
	video := pv.Video
	logger := log.WithField("video", video)
	logger.Infof("Processing: %s", video.Id)

	if p.Decryptor != nil {
		if final := p.Decryptor.FinalPath(p.BaseName(video)); utils.IsFileExist(final) {
			logger.Infof("Decrypted file already exists, skipping: %s", final)
			video.FilePath = final
			return nil
		}
	}

	p.setStatus(pv, interfaces.StatusResolving)
	target, err := p.Resolver.Resolve(ctx, video)
	if err != nil {
		return err
	}
	pv.Target = target
	video.Pid = target.CanonicalId
	if target.Title != "" {
		video.Title = target.Title
	}

	p.setStatus(pv, interfaces.StatusParsing)
	var header map[string]string
	if p.ManifestHeaders != nil {
		header = p.ManifestHeaders(video, target)
	}
	stream, err := p.Manifest.Load(ctx, target.ManifestUrl, header)
	if err != nil {
		return err
	}
	pv.Stream = stream
	logger.Infof("Selected stream: %s, bandwidth: %d, codecs: %s", stream.Resolution, stream.Bandwidth, stream.Codecs)

	p.setStatus(pv, interfaces.StatusFetching)
	name := p.BaseName(video)
	if p.External != nil {
		return p.External.DownloadVideo(ctx, video, &interfaces.DownloadJob{
			Id:              video.Id,
			SourceUrl:       target.ManifestUrl,
			DestinationPath: filepath.Join(p.OutputDir, name),
			ExpectedSize:    -1,
			Referer:         target.Referer,
		})
	}

	videoPath := filepath.Join(p.OutputDir, name+"_video.mp4")
	err = p.Fetcher.DownloadVideo(ctx, video, &interfaces.DownloadJob{
		Id:              video.Id + " video",
		SourceUrl:       stream.VideoUrl,
		DestinationPath: videoPath,
		ExpectedSize:    -1,
	})
	if err != nil {
		return err
	}
	if stream.HasAudio() {
		err = p.Fetcher.DownloadVideo(ctx, video, &interfaces.DownloadJob{
			Id:              video.Id + " audio",
			SourceUrl:       stream.AudioUrl,
			DestinationPath: filepath.Join(p.OutputDir, name+"_audio.mp4"),
			ExpectedSize:    -1,
		})
		if err != nil {
			return err
		}
	} else {
		logger.Info("Manifest has no audio track, skipping audio leg")
	}
	video.FilePath = videoPath

	if p.Decryptor == nil {
		return nil
	}
	p.setStatus(pv, interfaces.StatusFinalizing)
	return p.Decryptor.Finalize(ctx, video, name, videoPath)
}

// SafeProcess turns a panic inside one job into an ErrFetch failure.
func SafeProcess(ctx context.Context, proc interface {
	Process(ctx context.Context, id string) error
}, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("id", id).Errorf("job panicked: %v", r)
			err = fmt.Errorf("%w: panic: %v", interfaces.ErrFetch, r)
		}
	}()
	return proc.Process(ctx, id)
}
