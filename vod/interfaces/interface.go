package interfaces

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

type VideoInfoLogHook struct {
}

func (h *VideoInfoLogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *VideoInfoLogHook) Fire(entry *logrus.Entry) error {
	_ret, ok := entry.Data["video"]
	if !ok {
		return nil
	}
	v, ok := _ret.(*VideoInfo)
	if !ok {
		return nil
	}
	delete(entry.Data, "video")
	entry.Data["user"] = fmt.Sprintf("%s|%s", v.Site, v.Id)
	if v.Title != "" {
		entry.Data["title"] = v.Title
	}
	return nil
}

func init() {
	logrus.AddHook(&VideoInfoLogHook{})
}

// VideoInfo is the per-identifier state carried through every stage.
type VideoInfo struct {
	Id       string
	Site     string
	Title    string
	Pid      string
	Status   JobStatus
	FilePath string
}

func (v *VideoInfo) String() string {
	return fmt.Sprintf("%s|%s", v.Site, v.Id)
}

type ResolvedTarget struct {
	CanonicalId string
	ManifestUrl string
	// Title is best effort, empty when the site exposes none.
	Title   string
	Referer string
}

// MediaStream is one quality variant of a manifest.
type MediaStream struct {
	Bandwidth  int64
	Resolution string
	VideoUrl   string
	// AudioUrl is empty when the manifest has no separate audio track.
	AudioUrl string
	Codecs   string
}

func (s *MediaStream) HasAudio() bool {
	return s.AudioUrl != ""
}

type DownloadJob struct {
	Id              string
	SourceUrl       string
	DestinationPath string
	// ExpectedSize is -1 when unknown.
	ExpectedSize int64
	BytesOnDisk  int64
	Referer      string
}

// IsComplete reports whether the file on disk already holds the whole body.
func (j *DownloadJob) IsComplete() bool {
	return j.ExpectedSize > 0 && j.BytesOnDisk >= j.ExpectedSize
}

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusResolving  JobStatus = "resolving"
	StatusParsing    JobStatus = "parsing"
	StatusFetching   JobStatus = "fetching"
	StatusFinalizing JobStatus = "finalizing"
	StatusSucceeded  JobStatus = "succeeded"
	StatusFailed     JobStatus = "failed"
)

