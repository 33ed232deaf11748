package plugins

import (
	"encoding/json"
	"time"

	"github.com/fzxiao233/VodFetch/vod/interfaces"
	"github.com/fzxiao233/VodFetch/vod/videoworker"
	log "github.com/sirupsen/logrus"
)

const DefaultChannel = "vodfetch"

type Publisher interface {
	Publish(channel string, data []byte) error
}

type JobEvent struct {
	Id       string `json:"id"`
	Site     string `json:"site"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Path     string `json:"path,omitempty"`
	Duration int64  `json:"duration_sec"`
}

// PluginPublisher pushes every job outcome to a pubsub channel.
type PluginPublisher struct {
	Pub     Publisher
	Channel string
}

func (p *PluginPublisher) JobStart(process *videoworker.ProcessVideo) error {
	return nil
}

func (p *PluginPublisher) JobEnd(process *videoworker.ProcessVideo) error {
	video := process.Video
	ev := &JobEvent{
		Id:       video.Id,
		Site:     video.Site,
		Success:  process.Succeeded(),
		Path:     video.FilePath,
		Duration: int64(time.Since(process.StartTime).Seconds()),
	}
	if process.Err != nil {
		ev.Error = process.Err.Error()
		ev.Kind = interfaces.ErrorKind(process.Err)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	channel := p.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	if err = p.Pub.Publish(channel, data); err != nil {
		return err
	}
	log.WithField("video", video).Debugf("Published job event to %s", channel)
	return nil
}
