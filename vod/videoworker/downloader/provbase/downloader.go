package provbase

/*
	Contains common functions & base types for downloaders
*/

import (
	"context"
	"time"

	"github.com/fzxiao233/VodFetch/vod/interfaces"
	log "github.com/sirupsen/logrus"
)

type DownloadProvider interface {
	StartDownload(ctx context.Context, video *interfaces.VideoInfo, job *interfaces.DownloadJob) error
	Name() string
}

type Downloader struct {
	Prov DownloadProvider
}

func (d *Downloader) DownloadVideo(ctx context.Context, video *interfaces.VideoInfo, job *interfaces.DownloadJob) error {
	logger := log.WithField("video", video).WithField("prov", d.Prov.Name())
	logger.Infof("start to download %s", job.DestinationPath)
	start := time.Now()
	err := d.Prov.StartDownload(ctx, video, job)
	if err != nil {
		logger.WithError(err).Warnf("download of %s failed", job.DestinationPath)
		return err
	}
	logger.Infof("%s downloaded in %s", job.DestinationPath, time.Since(start).Round(time.Second))
	return nil
}
