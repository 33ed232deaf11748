package videoworker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fzxiao233/VodFetch/utils"
	"github.com/fzxiao233/VodFetch/vod/interfaces"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const (
	EnvUsername = "MGS_USERNAME"
	EnvPassword = "MGS_PASSWORD"
)

// Decryptor runs jav-it over a fetched file and moves the result into place.
type Decryptor struct {
	ToolPath string
	TempDir  string
	FinalDir string
	SiteTag  string
	ShopId   string
	Username string
	Password string
	// Sem bounds concurrent tool processes; nil means unbounded.
	Sem *semaphore.Weighted
}

func (d *Decryptor) FinalPath(name string) string {
	return filepath.Join(d.FinalDir, name+".mkv")
}

func (d *Decryptor) tempPath(name string) string {
	return filepath.Join(d.TempDir, name+".mkv")
}

// SiblingAudio maps <ID>_video.mp4 to <ID>_audio.mp4.
func SiblingAudio(videoPath string) string {
	dir, file := filepath.Split(videoPath)
	if !strings.HasSuffix(file, "_video.mp4") {
		return ""
	}
	return filepath.Join(dir, strings.TrimSuffix(file, "_video.mp4")+"_audio.mp4")
}

func (d *Decryptor) env() []string {
	var env []string
	if d.Username != "" {
		env = append(env, EnvUsername+"="+d.Username)
	}
	if d.Password != "" {
		env = append(env, EnvPassword+"="+d.Password)
	}
	return env
}

// Finalize produces <FinalDir>/<name>.mkv from rawPath. The final path is
// either absent or complete whatever the outcome.
func (d *Decryptor) Finalize(ctx context.Context, video *interfaces.VideoInfo, name string, rawPath string) error {
	logger := log.WithField("video", video)
	finalPath := d.FinalPath(name)
	if utils.IsFileExist(finalPath) {
		logger.Infof("Decrypted file already exists: %s", finalPath)
		video.FilePath = finalPath
		return nil
	}
	if !utils.IsFileExist(d.ToolPath) {
		return fmt.Errorf("jav-it not found at %s: %w", d.ToolPath, interfaces.ErrToolMissing)
	}

	tempPath, err := filepath.Abs(d.tempPath(name))
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrFinalize, err)
	}
	inputPath, err := filepath.Abs(rawPath)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrFinalize, err)
	}
	if err = utils.MakeDir(filepath.Dir(tempPath)); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrFinalize, err)
	}
	if utils.IsFileExist(tempPath) {
		logger.Debugf("Removing stale temp output %s", tempPath)
		if err = os.Remove(tempPath); err != nil {
			return fmt.Errorf("%w: remove stale %s: %v", interfaces.ErrFinalize, tempPath, err)
		}
	}

	if d.Sem != nil {
		if err = d.Sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("%w: %v", interfaces.ErrToolFailed, err)
		}
		defer d.Sem.Release(1)
	}

	args := []string{"decrypt", "-i", inputPath, "-o", tempPath, "-t", d.SiteTag, "-s", d.ShopId}
	logger.Infof("Running jav-it decrypt: %s", name)
	logger.Debugf("Command: %s %s", d.ToolPath, strings.Join(args, " "))
	ret, err := utils.ExecShellEx(ctx, utils.ShellOpts{Dir: filepath.Dir(d.ToolPath), Env: d.env()}, d.ToolPath, args...)
	if err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("start jav-it: %w: %v", interfaces.ErrToolFailed, err)
	}
	if ret.ExitCode != 0 {
		logger.Errorf("jav-it decrypt failed: %s", name)
		logger.Errorf("stdout: %s", ret.Stdout)
		logger.Errorf("stderr: %s", ret.Stderr)
		if err = os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
			logger.Warnf("Failed to remove temp output %s: %v", tempPath, err)
		}
		return &interfaces.ToolError{
			Tool:     "jav-it",
			ExitCode: ret.ExitCode,
			Stdout:   ret.Stdout,
			Stderr:   ret.Stderr,
			Kind:     interfaces.ErrToolFailed,
		}
	}
	if !utils.IsFileExist(tempPath) {
		return fmt.Errorf("jav-it produced no output at %s: %w", tempPath, interfaces.ErrToolFailed)
	}

	if err = utils.MoveFile(tempPath, finalPath); err != nil {
		return fmt.Errorf("move %s to %s: %w: %v", tempPath, finalPath, interfaces.ErrFinalize, err)
	}
	logger.Infof("Decrypt complete: %s", finalPath)
	video.FilePath = finalPath

	d.removeSources(logger, rawPath)
	return nil
}

func (d *Decryptor) removeSources(logger *log.Entry, rawPath string) {
	if err := os.Remove(rawPath); err != nil {
		logger.Warnf("Failed to delete source file %s: %v", rawPath, err)
	} else {
		logger.Infof("Deleted source file: %s", filepath.Base(rawPath))
	}
	audio := SiblingAudio(rawPath)
	if audio == "" || !utils.IsFileExist(audio) {
		return
	}
	if err := os.Remove(audio); err != nil {
		logger.Warnf("Failed to delete source file %s: %v", audio, err)
	} else {
		logger.Infof("Deleted source file: %s", filepath.Base(audio))
	}
}
