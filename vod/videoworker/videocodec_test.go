package videoworker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/fzxiao233/VodFetch/utils"
	"github.com/fzxiao233/VodFetch/vod/interfaces"
)

// writeTool drops a shell script that stands in for an external executable.
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

// fakeDecrypt copies -i to -o and records its env and args next to itself.
const fakeDecrypt = `
while [ $# -gt 0 ]; do
  case "$1" in
    -i) shift; in="$1";;
    -o) shift; out="$1";;
  esac
  shift
done
echo "$MGS_USERNAME:$MGS_PASSWORD" > env.txt
cp "$in" "$out"
`

type finalizeFixture struct {
	dir   string
	video string
	audio string
	dec   *Decryptor
}

func newFinalizeFixture(t *testing.T, script string) *finalizeFixture {
	dir := t.TempDir()
	f := &finalizeFixture{
		dir:   dir,
		video: filepath.Join(dir, "downloaded", "KIT-012_video.mp4"),
		audio: filepath.Join(dir, "downloaded", "KIT-012_audio.mp4"),
	}
	toolDir := filepath.Join(dir, "tools")
	if err := os.MkdirAll(toolDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(f.video), 0755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{f.video, f.audio} {
		if err := os.WriteFile(p, []byte("raw"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	f.dec = &Decryptor{
		ToolPath: writeTool(t, toolDir, "jav-it", script),
		TempDir:  filepath.Join(dir, "temp"),
		FinalDir: filepath.Join(dir, "decrypted"),
		SiteTag:  "mgs",
		ShopId:   "prestigebb",
		Username: "user",
		Password: "secret",
	}
	return f
}

func TestFinalizeSuccess(t *testing.T) {
	f := newFinalizeFixture(t, fakeDecrypt)
	video := &interfaces.VideoInfo{Id: "kit-012"}
	if err := f.dec.Finalize(context.Background(), video, "KIT-012", f.video); err != nil {
		t.Fatal(err)
	}
	final := filepath.Join(f.dir, "decrypted", "KIT-012.mkv")
	if !utils.IsFileExist(final) || video.FilePath != final {
		t.Fatalf("final artifact missing, FilePath=%q", video.FilePath)
	}
	if utils.IsFileExist(f.video) || utils.IsFileExist(f.audio) {
		t.Error("raw sources were not deleted")
	}
	env, err := os.ReadFile(filepath.Join(f.dir, "tools", "env.txt"))
	if err != nil {
		t.Fatalf("tool did not run in its own directory: %v", err)
	}
	if strings.TrimSpace(string(env)) != "user:secret" {
		t.Errorf("credentials env = %q", env)
	}
}

func TestFinalizeToolFailure(t *testing.T) {
	f := newFinalizeFixture(t, "echo partial > \"$5\"\necho bad key 1>&2\nexit 1\n")
	err := f.dec.Finalize(context.Background(), &interfaces.VideoInfo{Id: "kit-012"}, "KIT-012", f.video)
	var toolErr *interfaces.ToolError
	if !errors.As(err, &toolErr) || !errors.Is(err, interfaces.ErrToolFailed) {
		t.Fatalf("err = %v, want ToolError", err)
	}
	if !strings.Contains(toolErr.Stderr, "bad key") {
		t.Errorf("stderr not captured: %q", toolErr.Stderr)
	}
	if utils.IsFileExist(filepath.Join(f.dir, "decrypted", "KIT-012.mkv")) {
		t.Error("final artifact exists after tool failure")
	}
	if utils.IsFileExist(filepath.Join(f.dir, "temp", "KIT-012.mkv")) {
		t.Error("temp output was not removed")
	}
	if !utils.IsFileExist(f.video) || !utils.IsFileExist(f.audio) {
		t.Error("raw sources deleted after tool failure")
	}
}

func TestFinalizeShortCircuits(t *testing.T) {
	f := newFinalizeFixture(t, "exit 9\n")
	final := filepath.Join(f.dir, "decrypted", "KIT-012.mkv")
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(final, []byte("done"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := f.dec.Finalize(context.Background(), &interfaces.VideoInfo{Id: "kit-012"}, "KIT-012", f.video); err != nil {
		t.Errorf("existing final should short-circuit: %v", err)
	}
}

func TestFinalizeToolMissing(t *testing.T) {
	f := newFinalizeFixture(t, fakeDecrypt)
	f.dec.ToolPath = filepath.Join(f.dir, "tools", "absent")
	err := f.dec.Finalize(context.Background(), &interfaces.VideoInfo{Id: "kit-012"}, "KIT-012", f.video)
	if !errors.Is(err, interfaces.ErrToolMissing) {
		t.Errorf("err = %v, want ErrToolMissing", err)
	}
}

func TestFinalizeClearsStaleTemp(t *testing.T) {
	// the stand-in refuses to overwrite, like the real tool
	f := newFinalizeFixture(t, "[ -e \"$5\" ] && exit 3\ncp \"$3\" \"$5\"\n")
	stale := filepath.Join(f.dir, "temp", "KIT-012.mkv")
	if err := os.MkdirAll(filepath.Dir(stale), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := f.dec.Finalize(context.Background(), &interfaces.VideoInfo{Id: "kit-012"}, "KIT-012", f.video); err != nil {
		t.Fatal(err)
	}
}

func TestSiblingAudio(t *testing.T) {
	if got := SiblingAudio(filepath.Join("a", "X-1_video.mp4")); got != filepath.Join("a", "X-1_audio.mp4") {
		t.Errorf("SiblingAudio() = %q", got)
	}
	if got := SiblingAudio("a/other.mp4"); got != "" {
		t.Errorf("SiblingAudio() = %q", got)
	}
}

func TestFinalizeMoveFailure(t *testing.T) {
	f := newFinalizeFixture(t, fakeDecrypt)
	// a plain file where the final directory should be makes the move fail
	if err := os.WriteFile(f.dec.FinalDir, []byte("not a dir"), 0644); err != nil {
		t.Fatal(err)
	}
	video := &interfaces.VideoInfo{Id: "kit-012", Site: "mgstage"}
	err := f.dec.Finalize(context.Background(), video, "KIT-012", f.video)
	if !errors.Is(err, interfaces.ErrFinalize) {
		t.Fatalf("err = %v, want ErrFinalize", err)
	}
	if _, serr := os.Stat(f.dec.FinalPath("KIT-012")); serr == nil {
		t.Error("final artifact exists after a failed move")
	}
	for _, p := range []string{f.video, f.audio} {
		if !utils.IsFileExist(p) {
			t.Errorf("raw source %s deleted after a failed move", p)
		}
	}
	if video.FilePath == f.dec.FinalPath("KIT-012") {
		t.Error("FilePath points at a missing final artifact")
	}
}
