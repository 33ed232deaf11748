package mgstage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fzxiao233/VodFetch/vod/interfaces"
	"github.com/fzxiao233/VodFetch/vod/resolver/base"
)

func TestPickContent(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantPid string
		wantErr error
	}{
		{"first with pid", `{"hits":2,"contents":[{"pid":"","title":"a"},{"pid":"ABC123","title":"b"}]}`, "ABC123", nil},
		{"fallback first", `{"hits":1,"contents":[{"pid":"","title":"a"}]}`, "", nil},
		{"no hits", `{"hits":0,"contents":[]}`, "", interfaces.ErrNotFound},
		{"empty contents", `{"hits":3,"contents":[]}`, "", interfaces.ErrNotFound},
		{"bad json", `<html>`, "", interfaces.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hit, err := pickContent([]byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("pickContent() err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if hit.Pid != tt.wantPid {
				t.Errorf("pickContent() pid = %q, want %q", hit.Pid, tt.wantPid)
			}
		})
	}
}

func newTestResolver(srv *httptest.Server) *Mgstage {
	m := New(base.CreateResolverCtx(srv.Client(), 0, nil), Identity{
		Uid:           "u1",
		DeviceId:      "d1",
		ShopId:        "prestigebb",
		Quality:       "high",
		PlayerVersion: "1.2.3",
	})
	m.ApiBase = srv.URL
	m.Now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local) }
	return m
}

func TestResolve(t *testing.T) {
	var searches int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("uid") != "u1" || r.Header.Get("device-id") != "d1" || r.Header.Get("last-update") != "20240506070809" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		switch r.URL.Path {
		case "/list/monthly/search":
			atomic.AddInt32(&searches, 1)
			if r.URL.Query().Get("word") != "kit-012" || r.URL.Query().Get("shop_id") != "prestigebb" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"hits":1,"contents":[{"pid":"ABC123","title":"t"}]}`))
		case "/detail/play/monthly/content":
			if r.Header.Get("pid") != "ABC123" || r.Header.Get("quality") != "high" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"manifest_url":"https://x/m.mpd"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	m := newTestResolver(srv)
	video := &interfaces.VideoInfo{Id: "kit-012", Site: "mgstage"}
	target, err := m.Resolve(context.Background(), video)
	if err != nil {
		t.Fatal(err)
	}
	if target.CanonicalId != "ABC123" || target.ManifestUrl != "https://x/m.mpd" {
		t.Errorf("Resolve() = %+v", target)
	}
	// the pid lookup is memoized per identifier, case-insensitively
	if _, err = m.Resolve(context.Background(), &interfaces.VideoInfo{Id: "KIT-012", Site: "mgstage"}); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&searches); n != 1 {
		t.Errorf("search called %d times", n)
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name    string
		search  string
		detail  string
		status  int
		wantErr error
	}{
		{"not found", `{"hits":0,"contents":[]}`, "", 200, interfaces.ErrNotFound},
		{"no manifest", `{"hits":1,"contents":[{"pid":"P"}]}`, `{}`, 200, interfaces.ErrNotFound},
		{"no pid anywhere", `{"hits":2,"contents":[{"pid":"","title":"A"},{"title":"B"}]}`, "", 200, interfaces.ErrNotFound},
		{"server error", "", "", 500, interfaces.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status != 200 {
					w.WriteHeader(tt.status)
					return
				}
				if r.URL.Path == "/list/monthly/search" {
					_, _ = w.Write([]byte(tt.search))
				} else {
					_, _ = w.Write([]byte(tt.detail))
				}
			}))
			defer srv.Close()
			_, err := newTestResolver(srv).Resolve(context.Background(), &interfaces.VideoInfo{Id: "x-1"})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Resolve() err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
