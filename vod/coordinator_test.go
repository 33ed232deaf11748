package vod

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fzxiao233/VodFetch/utils"
	"github.com/fzxiao233/VodFetch/vod/interfaces"
	"github.com/fzxiao233/VodFetch/vod/ledger"
	"github.com/fzxiao233/VodFetch/vod/manifest"
	"github.com/fzxiao233/VodFetch/vod/resolver/base"
	"github.com/fzxiao233/VodFetch/vod/resolver/mgstage"
	"github.com/fzxiao233/VodFetch/vod/resolver/nanairo"
	"github.com/fzxiao233/VodFetch/vod/videoworker"
	"github.com/fzxiao233/VodFetch/vod/videoworker/downloader/provbase"
	"github.com/fzxiao233/VodFetch/vod/videoworker/downloader/provgo"
	"github.com/fzxiao233/VodFetch/vod/videoworker/downloader/provsegment"
)

// fakeProcessor fails every id listed in fail and panics on panicOn.
type fakeProcessor struct {
	fail    map[string]bool
	panicOn string
	delay   time.Duration
	calls   int32
}

func (f *fakeProcessor) Process(ctx context.Context, id string) error {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if id == f.panicOn {
		panic("boom")
	}
	if f.fail[id] {
		return fmt.Errorf("fake: %w", interfaces.ErrTransient)
	}
	return nil
}

func newLedger(t *testing.T, ids []string) *ledger.Ledger {
	dir := t.TempDir()
	l := ledger.New(filepath.Join(dir, "pending.list"), filepath.Join(dir, "failed.list"))
	if err := l.Seed(ids); err != nil {
		t.Fatal(err)
	}
	return l
}

func sorted(s []string) []string {
	ret := append([]string{}, s...)
	sort.Strings(ret)
	return ret
}

func TestLedgerIndependentOfPoolSize(t *testing.T) {
	var ids []string
	fail := map[string]bool{}
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("abc-%03d", i)
		ids = append(ids, id)
		if i%4 == 1 {
			fail[id] = true
		}
	}
	var results [][2][]string
	for _, workers := range []int{1, 8} {
		l := newLedger(t, ids)
		c := NewCoordinator(&fakeProcessor{fail: fail}, l, workers)
		report, err := c.Run(context.Background(), ids)
		if err != nil {
			t.Fatal(err)
		}
		if report.Attempted != 40 || report.Failed != 10 || report.Succeeded != 30 {
			t.Errorf("workers=%d report = %+v", workers, report)
		}
		pending, _ := l.Pending()
		failed, _ := l.Failed()
		results = append(results, [2][]string{sorted(pending), sorted(failed)})
	}
	if !reflect.DeepEqual(results[0], results[1]) {
		t.Errorf("ledgers differ between 1 and 8 workers:\n%v\n%v", results[0], results[1])
	}
	var wantFailed []string
	for _, id := range ids {
		if fail[id] {
			wantFailed = append(wantFailed, id)
		}
	}
	if !reflect.DeepEqual(results[0][0], sorted(wantFailed)) || !reflect.DeepEqual(results[0][1], sorted(wantFailed)) {
		t.Errorf("pending/failed = %v / %v, want %v", results[0][0], results[0][1], wantFailed)
	}
}

func TestIdempotentRerun(t *testing.T) {
	ids := []string{"a-1", "a-2", "a-3"}
	l := newLedger(t, ids)
	proc := &fakeProcessor{}
	if _, err := NewCoordinator(proc, l, 2).Run(context.Background(), ids); err != nil {
		t.Fatal(err)
	}
	remaining, _ := l.Pending()
	if len(remaining) != 0 {
		t.Fatalf("pending = %v", remaining)
	}
	report, err := NewCoordinator(proc, l, 2).Run(context.Background(), remaining)
	if err != nil {
		t.Fatal(err)
	}
	if report.Attempted != 0 || atomic.LoadInt32(&proc.calls) != 3 {
		t.Errorf("rerun processed %+v (calls=%d)", report, proc.calls)
	}
}

func TestPanicIsolated(t *testing.T) {
	ids := []string{"ok-1", "bad-1", "ok-2"}
	l := newLedger(t, ids)
	report, err := NewCoordinator(&fakeProcessor{panicOn: "bad-1"}, l, 1).Run(context.Background(), ids)
	if err != nil {
		t.Fatal(err)
	}
	if report.Succeeded != 2 || report.Failed != 1 {
		t.Errorf("report = %+v", report)
	}
	failed, _ := l.Failed()
	if !reflect.DeepEqual(failed, []string{"bad-1"}) {
		t.Errorf("failed = %v", failed)
	}
}

func TestShutdownStopsDispatch(t *testing.T) {
	ids := []string{"s-1", "s-2", "s-3", "s-4"}
	l := newLedger(t, ids)
	proc := &fakeProcessor{delay: 50 * time.Millisecond}
	dispatchCtx, cancel := context.WithCancel(context.Background())
	c := NewCoordinator(proc, l, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	var report Report
	go func() {
		defer wg.Done()
		report, _ = c.Run(dispatchCtx, ids)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	wg.Wait()

	if report.Attempted == 0 || report.Attempted == len(ids) {
		t.Errorf("attempted = %d, want in-flight only", report.Attempted)
	}
	pending, _ := l.Pending()
	if len(pending) != len(ids)-report.Succeeded {
		t.Errorf("pending = %v after %d successes", pending, report.Succeeded)
	}
}

func writeTool(t *testing.T, dir string, name string, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script tool stand-in needs a unix shell")
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return p
}

// catalogServer plays the catalog API, manifest host and media host.
type catalogServer struct {
	*httptest.Server
	mu      sync.Mutex
	fetched []string
}

func newCatalogServer(t *testing.T) *catalogServer {
	cs := &catalogServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/list/monthly/search":
			if strings.EqualFold(r.URL.Query().Get("word"), "kit-012") {
				_, _ = w.Write([]byte(`{"hits":2,"contents":[{"pid":"","title":"x"},{"pid":"ABC123","title":"kit"}]}`))
				return
			}
			_, _ = w.Write([]byte(`{"hits":0,"contents":[]}`))
		case r.URL.Path == "/detail/play/monthly/content":
			if r.Header.Get("pid") != "ABC123" {
				_, _ = w.Write([]byte(`{}`))
				return
			}
			_, _ = w.Write([]byte(fmt.Sprintf(`{"manifest_url":"%s/m.mpd"}`, cs.URL)))
		case r.URL.Path == "/m.mpd":
			_, _ = w.Write([]byte(fmt.Sprintf(`<?xml version="1.0"?><MPD><Period>
<AdaptationSet><Representation><BaseURL><![CDATA[%[1]s/media/kit_800000.mp4]]></BaseURL></Representation>
<Representation><BaseURL>%[1]s/media/kit_1200000.mp4</BaseURL></Representation>
<Representation><BaseURL>%[1]s/media/kit_600000.mp4</BaseURL></Representation></AdaptationSet>
<AdaptationSet><Representation><BaseURL>%[1]s/media/kit_audio.mp4</BaseURL></Representation></AdaptationSet>
</Period></MPD>`, cs.URL)))
		case strings.HasPrefix(r.URL.Path, "/media/"):
			if r.Method == http.MethodGet {
				cs.mu.Lock()
				cs.fetched = append(cs.fetched, r.URL.Path)
				cs.mu.Unlock()
			}
			w.Header().Set("Content-Length", "5")
			if r.Method == http.MethodGet {
				_, _ = w.Write([]byte("media"))
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(cs.Close)
	return cs
}

const copyDecrypt = "cp \"$3\" \"$5\"\n"

func newMgstagePipeline(t *testing.T, cs *catalogServer, dir string) *videoworker.Pipeline {
	res := mgstage.New(base.CreateResolverCtx(cs.Client(), 0, nil), mgstage.Identity{
		Uid: "u", DeviceId: "d", ShopId: "prestigebb", Quality: "high", PlayerVersion: "1.2.3",
	})
	res.ApiBase = cs.URL
	return &videoworker.Pipeline{
		Site:      "mgstage",
		Resolver:  res,
		Manifest:  &manifest.Loader{Client: cs.Client()},
		Fetcher:   &provbase.Downloader{Prov: &provgo.DownloaderGo{Client: cs.Client()}},
		OutputDir: filepath.Join(dir, "downloaded"),
		Decryptor: &videoworker.Decryptor{
			ToolPath: writeTool(t, dir, "jav-it", copyDecrypt),
			TempDir:  filepath.Join(dir, "temp"),
			FinalDir: filepath.Join(dir, "decrypted"),
			SiteTag:  "mgs",
			ShopId:   "prestigebb",
		},
	}
}

func TestScenarioCatalogSuccess(t *testing.T) {
	cs := newCatalogServer(t)
	dir := t.TempDir()
	p := newMgstagePipeline(t, cs, dir)
	l := newLedger(t, []string{"kit-012"})

	report, err := NewCoordinator(p, l, 1).Run(context.Background(), []string{"kit-012"})
	if err != nil {
		t.Fatal(err)
	}
	if report.Succeeded != 1 {
		failed, _ := l.Failed()
		t.Fatalf("report = %+v, failed = %v", report, failed)
	}
	got := sorted(cs.fetched)
	if want := []string{"/media/kit_1200000.mp4", "/media/kit_audio.mp4"}; !reflect.DeepEqual(got, want) {
		t.Errorf("fetched = %v, want %v", got, want)
	}
	if !utils.IsFileExist(filepath.Join(dir, "decrypted", "KIT-012.mkv")) {
		t.Error("KIT-012.mkv missing")
	}
	for _, raw := range []string{"KIT-012_video.mp4", "KIT-012_audio.mp4"} {
		if utils.IsFileExist(filepath.Join(dir, "downloaded", raw)) {
			t.Errorf("%s not deleted", raw)
		}
	}
	if pending, _ := l.Pending(); len(pending) != 0 {
		t.Errorf("pending = %v", pending)
	}
}

func TestScenarioMixedOutcome(t *testing.T) {
	cs := newCatalogServer(t)
	dir := t.TempDir()
	p := newMgstagePipeline(t, cs, dir)
	ids := []string{"kit-012", "zzz-999"}
	l := newLedger(t, ids)

	report, err := NewCoordinator(p, l, 2).Run(context.Background(), ids)
	if err != nil {
		t.Fatal(err)
	}
	if report.Succeeded != 1 || report.Failed != 1 {
		t.Errorf("report = %+v", report)
	}
	failed, _ := l.Failed()
	if !reflect.DeepEqual(failed, []string{"zzz-999"}) {
		t.Errorf("failed = %v", failed)
	}
	pending, _ := l.Pending()
	if !reflect.DeepEqual(pending, []string{"zzz-999"}) {
		t.Errorf("pending = %v", pending)
	}
}

func TestScenarioPlayerPageMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ja/videos/43":
			_, _ = w.Write([]byte("<title>Forty Three - nanairo</title>"))
		case "/player/43/start":
			_, _ = w.Write([]byte(`{"success":true,"data":{"segmentToken":"tok"}}`))
		case "/videos/43/cmaf/sdr/tok/index.m3u8":
			_, _ = w.Write([]byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000,RESOLUTION=640x360\nv/index.m3u8\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	res := nanairo.New(base.CreateResolverCtx(srv.Client(), 0, nil), "ja", "", false)
	res.BaseUrl = srv.URL
	tool := writeTool(t, dir, "dl", `
while [ $# -gt 0 ]; do
  case "$1" in
    --save-dir) shift; sd="$1";;
    --save-name) shift; sn="$1";;
  esac
  shift
done
echo muxed > "$sd/$sn.mp4"
`)
	p := &videoworker.Pipeline{
		Site:     "nanairo",
		Resolver: res,
		Manifest: &manifest.Loader{Client: srv.Client()},
		ManifestHeaders: func(video *interfaces.VideoInfo, target *interfaces.ResolvedTarget) map[string]string {
			return res.Headers(video.Id)
		},
		External:  &provbase.Downloader{Prov: &provsegment.DownloaderSegment{ToolPath: tool}},
		OutputDir: filepath.Join(dir, "downloaded"),
	}
	ids := []string{"42", "43"}
	l := ledger.New("", filepath.Join(dir, "failed.list"))
	report, err := NewCoordinator(p, l, 1).Run(context.Background(), ids)
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed != 1 || report.Succeeded != 1 {
		t.Errorf("report = %+v", report)
	}
	failed, _ := l.Failed()
	if !reflect.DeepEqual(failed, []string{"42"}) {
		t.Errorf("failed = %v", failed)
	}
	if !utils.IsFileExist(filepath.Join(dir, "downloaded", "43_Forty Three.mp4")) {
		t.Error("43 output missing")
	}
}

func TestNotFoundKindReachesLedger(t *testing.T) {
	cs := newCatalogServer(t)
	dir := t.TempDir()
	p := newMgstagePipeline(t, cs, dir)
	err := p.Process(context.Background(), "nope-1")
	if !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
