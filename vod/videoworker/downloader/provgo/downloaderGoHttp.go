package provgo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/fzxiao233/VodFetch/utils"
	"github.com/fzxiao233/VodFetch/vod/interfaces"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultChunkSize = 128 * 1024
	ProbeTimeout     = 30 * time.Second
	// DefaultIdleTimeout cuts a transfer whose body stops arriving.
	DefaultIdleTimeout = 60 * time.Second
)

var errStalled = errors.New("no data received within idle timeout")

// ProgressFunc observes a transfer after every chunk written.
type ProgressFunc func(job *interfaces.DownloadJob, written int64)

// DownloaderGo fetches one url into one file, resuming when possible.
type DownloaderGo struct {
	Client    *http.Client
	Headers   map[string]string
	ChunkSize int
	Progress  ProgressFunc
	// IdleTimeout bounds the wait for each body read. Zero means DefaultIdleTimeout.
	IdleTimeout time.Duration
}

// idleWatch cancels a request when Touch is not called within timeout.
type idleWatch struct {
	timer   *time.Timer
	timeout time.Duration
	fired   int32
}

func newIdleWatch(timeout time.Duration, cancel context.CancelFunc) *idleWatch {
	w := &idleWatch{timeout: timeout}
	w.timer = time.AfterFunc(timeout, func() {
		atomic.StoreInt32(&w.fired, 1)
		cancel()
	})
	return w
}

func (w *idleWatch) Touch() {
	w.timer.Reset(w.timeout)
}

func (w *idleWatch) Stop() {
	w.timer.Stop()
}

func (w *idleWatch) Fired() bool {
	return atomic.LoadInt32(&w.fired) == 1
}

func (d *DownloaderGo) Name() string {
	return "go"
}

func (d *DownloaderGo) newRequest(ctx context.Context, meth string, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, meth, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", utils.DefaultUserAgent)
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// probeSize returns the remote size, or -1 when the probe fails.
func (d *DownloaderGo) probeSize(ctx context.Context, url string) int64 {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	req, err := d.newRequest(ctx, http.MethodHead, url)
	if err != nil {
		return -1
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		log.Debugf("HEAD %s failed: %v", url, err)
		return -1
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 || resp.ContentLength <= 0 {
		return -1
	}
	return resp.ContentLength
}

func (d *DownloaderGo) StartDownload(ctx context.Context, video *interfaces.VideoInfo, job *interfaces.DownloadJob) error {
	return d.Fetch(ctx, log.WithField("video", video), job)
}

// Fetch leaves partial files in place on failure so the next run can resume.
func (d *DownloaderGo) Fetch(ctx context.Context, entry *log.Entry, job *interfaces.DownloadJob) error {
	job.ExpectedSize = d.probeSize(ctx, job.SourceUrl)
	job.BytesOnDisk = utils.FileSize(job.DestinationPath)
	if job.IsComplete() {
		entry.Infof("File already exists and complete: %s", job.DestinationPath)
		return nil
	}

	resume := job.ExpectedSize > 0 && job.BytesOnDisk > 0 && job.BytesOnDisk < job.ExpectedSize
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, err := d.newRequest(reqCtx, http.MethodGet, job.SourceUrl)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrFetch, err)
	}
	if resume {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", job.BytesOnDisk))
		entry.Infof("Resuming from %d bytes", job.BytesOnDisk)
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", interfaces.ErrFetch, job.SourceUrl, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent && resume:
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		if resume {
			entry.Warnf("Server ignored range request, restarting %s", job.DestinationPath)
			resume = false
		}
	default:
		return fmt.Errorf("%w: downloader got bad status: %s", interfaces.ErrFetch, resp.Status)
	}

	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if resume {
		flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	} else {
		job.BytesOnDisk = 0
	}
	if err = utils.MakeDir(dirOf(job.DestinationPath)); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrFetch, err)
	}
	out, err := os.OpenFile(job.DestinationPath, flag, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrFetch, err)
	}

	idle := d.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	watch := newIdleWatch(idle, cancel)
	written, err := d.copyChunks(entry, job, out, resp.Body, watch)
	watch.Stop()
	if err != nil && watch.Fired() {
		err = errStalled
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	entry.Debugf("Wrote %d bytes to %s", written, job.DestinationPath)
	if err != nil {
		return fmt.Errorf("%w: %s after %d bytes: %v", interfaces.ErrFetch, job.DestinationPath, written, err)
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		return fmt.Errorf("%w: short transfer: expected %d, got %d", interfaces.ErrFetch, resp.ContentLength, written)
	}
	if job.ExpectedSize > 0 && job.BytesOnDisk != job.ExpectedSize {
		return fmt.Errorf("%w: %s has %d bytes, expected %d", interfaces.ErrFetch, job.DestinationPath, job.BytesOnDisk, job.ExpectedSize)
	}
	return nil
}

// copyChunks writes each chunk to disk before reading the next.
func (d *DownloaderGo) copyChunks(entry *log.Entry, job *interfaces.DownloadJob, dst io.Writer, src io.Reader, watch *idleWatch) (int64, error) {
	chunkSize := d.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)
	progressLog := rate.Sometimes{Interval: 10 * time.Second}
	written := int64(0)
	for {
		nr, er := src.Read(buf)
		if nr > 0 {
			watch.Touch()
			nw, ew := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
				job.BytesOnDisk += int64(nw)
			}
			if ew != nil {
				return written, ew
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
			if d.Progress != nil {
				d.Progress(job, written)
			}
			progressLog.Do(func() {
				if job.ExpectedSize > 0 {
					entry.Infof("%s: %d/%d bytes (%.1f%%)", job.Id, job.BytesOnDisk, job.ExpectedSize,
						float64(job.BytesOnDisk)*100/float64(job.ExpectedSize))
				} else {
					entry.Infof("%s: %d bytes", job.Id, job.BytesOnDisk)
				}
			})
		}
		if er != nil {
			if errors.Is(er, io.EOF) {
				return written, nil
			}
			return written, er
		}
	}
}
