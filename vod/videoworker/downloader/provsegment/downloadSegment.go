package provsegment

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fzxiao233/VodFetch/utils"
	"github.com/fzxiao233/VodFetch/vod/interfaces"
	log "github.com/sirupsen/logrus"
)

var KnownExtensions = []string{".mp4", ".mkv", ".ts"}

// DownloaderSegment hands the whole fetch and mux to N_m3u8DL-RE.
type DownloaderSegment struct {
	ToolPath  string
	Proxy     string
	Cookie    string
	UserAgent string
	ExtraArgs []string
	// Passthrough shows the tool's progress on our console.
	Passthrough bool
}

func (d *DownloaderSegment) Name() string {
	return "segment"
}

// ExistingOutput returns the first file saved under the output name.
func ExistingOutput(saveDir string, saveName string) string {
	for _, ext := range KnownExtensions {
		p := filepath.Join(saveDir, saveName+ext)
		if utils.IsFileExist(p) {
			return p
		}
	}
	return ""
}

func (d *DownloaderSegment) buildArgs(manifestUrl string, saveDir string, saveName string, referer string) []string {
	arg := []string{
		manifestUrl,
		"--save-dir", saveDir,
		"--save-name", saveName,
		"--auto-select",
		"-M", "format=mp4",
		"--no-log",
		"-mt",
	}
	if d.Cookie != "" {
		arg = append(arg, "-H", "Cookie: "+d.Cookie)
	}
	if referer != "" {
		arg = append(arg, "-H", "Referer: "+referer)
	}
	if d.UserAgent != "" {
		arg = append(arg, "-H", "User-Agent: "+d.UserAgent)
	}
	if d.Proxy != "" {
		arg = append(arg, "--custom-proxy", d.Proxy)
	}
	return append(arg, d.ExtraArgs...)
}

// StartDownload expects job.DestinationPath without extension; the tool picks it.
func (d *DownloaderSegment) StartDownload(ctx context.Context, video *interfaces.VideoInfo, job *interfaces.DownloadJob) error {
	logger := log.WithField("video", video)
	saveDir, saveName := filepath.Split(job.DestinationPath)
	saveDir = filepath.Clean(saveDir)
	if p := ExistingOutput(saveDir, saveName); p != "" {
		logger.Infof("File already exists: %s", p)
		video.FilePath = p
		return nil
	}
	if !utils.IsFileExist(d.ToolPath) {
		return fmt.Errorf("N_m3u8DL-RE not found at %s: %w", d.ToolPath, interfaces.ErrToolMissing)
	}
	if err := utils.MakeDir(saveDir); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrFetch, err)
	}

	arg := d.buildArgs(job.SourceUrl, saveDir, saveName, job.Referer)
	logger.Infof("Running N_m3u8DL-RE for %s", video.Id)
	logger.Debugf("Command: %s %s", d.ToolPath, redactCookie(arg))

	ret, err := utils.ExecShellEx(ctx, utils.ShellOpts{Passthrough: d.Passthrough}, d.ToolPath, arg...)
	if err != nil {
		return fmt.Errorf("start N_m3u8DL-RE: %w: %v", interfaces.ErrFetch, err)
	}
	if ret.ExitCode != 0 {
		return &interfaces.ToolError{
			Tool:     "N_m3u8DL-RE",
			ExitCode: ret.ExitCode,
			Stdout:   ret.Stdout,
			Stderr:   ret.Stderr,
			Kind:     interfaces.ErrFetch,
		}
	}
	video.FilePath = ExistingOutput(saveDir, saveName)
	return nil
}

func redactCookie(arg []string) string {
	out := make([]string, len(arg))
	for i, a := range arg {
		if strings.HasPrefix(a, "Cookie: ") {
			a = "Cookie: <redacted>"
		}
		out[i] = a
	}
	return strings.Join(out, " ")
}
