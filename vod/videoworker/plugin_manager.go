package videoworker

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

type PluginCallback interface {
	JobStart(p *ProcessVideo) error
	JobEnd(p *ProcessVideo) error
}

type PluginManager struct {
	plugins []PluginCallback
}

func (p *PluginManager) AddPlugin(plug PluginCallback) {
	p.plugins = append(p.plugins, plug)
}

func (p *PluginManager) run(video *ProcessVideo, call func(plug PluginCallback) error) {
	var wg sync.WaitGroup
	wg.Add(len(p.plugins))
	for _, plug := range p.plugins {
		go func(plug PluginCallback) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.WithField("video", video.Video).Errorf("plugin panic: %v", r)
				}
			}()
			if err := call(plug); err != nil {
				log.WithField("video", video.Video).WithError(err).Warn("plugin failed")
			}
		}(plug)
	}
	wg.Wait()
}

func (p *PluginManager) OnJobStart(video *ProcessVideo) {
	p.run(video, func(plug PluginCallback) error { return plug.JobStart(video) })
}

func (p *PluginManager) OnJobEnd(video *ProcessVideo) {
	p.run(video, func(plug PluginCallback) error { return plug.JobEnd(video) })
}
