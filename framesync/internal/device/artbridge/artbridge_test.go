package artbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hazyhaar/artsync/framesync/internal/device"
)

// fakeBridge is an in-memory bridge with one display.
type fakeBridge struct {
	mu       sync.Mutex
	token    string // token handed out on connect
	gotToken string // token presented on the last connect
	artMode  string
	items    map[string][]byte
	selected string
	shown    bool
	closed   int
	fail     map[string]int // op -> status code
	next     int
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{token: "tok-123", artMode: "off", items: map[string][]byte{}, fail: map[string]int{}}
}

func (b *fakeBridge) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /art/{op}", func(w http.ResponseWriter, r *http.Request) {
		op := r.PathValue("op")
		b.mu.Lock()
		defer b.mu.Unlock()

		if code := b.fail[op]; code != 0 {
			w.WriteHeader(code)
			json.NewEncoder(w).Encode(map[string]string{"error": op + " failed"})
			return
		}

		var in map[string]json.RawMessage
		json.NewDecoder(r.Body).Decode(&in)
		str := func(k string) string {
			var s string
			json.Unmarshal(in[k], &s)
			return s
		}

		out := map[string]any{}
		switch op {
		case "connect":
			b.gotToken = str("token")
			out["session"] = "s1"
			out["token"] = b.token
		case "supported":
			out["supported"] = true
		case "state":
			out["art_mode"] = b.artMode
		case "upload":
			var data []byte
			json.Unmarshal(in["data"], &data)
			b.next++
			id := "MY_F" + string(rune('0'+b.next))
			b.items[id] = data
			out["content_id"] = id
		case "select":
			b.selected = str("content_id")
			json.Unmarshal(in["show"], &b.shown)
		case "delete":
			var ids []string
			json.Unmarshal(in["content_ids"], &ids)
			for _, id := range ids {
				delete(b.items, id)
			}
		case "close":
			b.closed++
		}
		json.NewEncoder(w).Encode(out)
	})
	return mux
}

func TestBridge_SyncRoundTrip(t *testing.T) {
	// WHAT: Two syncs through the bridge leave only the second item, selected.
	// WHY: Exercises the adapter end to end with the real sync ordering.
	fb := newFakeBridge()
	srv := httptest.NewServer(fb.handler())
	defer srv.Close()

	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "tv-token.txt")
	d := New(Config{Endpoint: srv.URL + "/", Host: "10.0.0.5", TokenFile: tokenFile})
	s := device.NewSyncer(d, device.FileRecords{Path: filepath.Join(dir, "last-art-id.txt")})

	img := []byte{0xFF, 0xD8, 0xFF, 0x01, 0x02}
	first, err := s.Sync(context.Background(), device.Request{Data: img, FileType: "jpeg", Matte: "none"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Sync(context.Background(), device.Request{Data: img, FileType: "jpeg", Show: true})
	if err != nil {
		t.Fatal(err)
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if _, ok := fb.items[first]; ok {
		t.Fatalf("first item %s not deleted", first)
	}
	if !bytes.Equal(fb.items[second], img) {
		t.Fatalf("uploaded bytes altered: %v", fb.items[second])
	}
	if fb.selected != second || !fb.shown {
		t.Fatalf("selected %q shown=%v", fb.selected, fb.shown)
	}
	if fb.closed != 2 {
		t.Fatalf("closes: got %d", fb.closed)
	}
	if fb.gotToken != "tok-123" {
		t.Fatalf("second connect should present the saved token, got %q", fb.gotToken)
	}

	saved, _ := os.ReadFile(tokenFile)
	if string(bytes.TrimSpace(saved)) != "tok-123" {
		t.Fatalf("token file: %q", saved)
	}
}

func TestBridge_ArtModeValues(t *testing.T) {
	fb := newFakeBridge()
	srv := httptest.NewServer(fb.handler())
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL}).Dial(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	for _, tc := range []struct {
		value string
		want  bool
	}{{"on", true}, {"TRUE", true}, {"1", true}, {"off", false}, {"", false}} {
		fb.mu.Lock()
		fb.artMode = tc.value
		fb.mu.Unlock()
		got, err := c.ArtModeState(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("art_mode %q: got %v", tc.value, got)
		}
	}
}

func TestBridge_ErrorMapping(t *testing.T) {
	tests := []struct {
		op     string
		status int
		kind   device.Kind
	}{
		{"connect", http.StatusServiceUnavailable, device.Unreachable},
		{"upload", http.StatusBadRequest, device.Rejected},
		{"select", http.StatusGatewayTimeout, device.Timeout},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			fb := newFakeBridge()
			fb.fail[tt.op] = tt.status
			srv := httptest.NewServer(fb.handler())
			defer srv.Close()

			s := device.NewSyncer(New(Config{Endpoint: srv.URL}), device.FileRecords{Path: filepath.Join(t.TempDir(), "last")})
			_, err := s.Sync(context.Background(), device.Request{Data: []byte{1}})
			if !device.IsKind(err, tt.kind) {
				t.Fatalf("expected %v, got %v", tt.kind, err)
			}
		})
	}
}

func TestBridge_ExplicitKind(t *testing.T) {
	err := statusError("supported", http.StatusConflict, []byte(`{"error":"no art store","kind":"unsupported"}`))
	if !device.IsKind(err, device.Unsupported) {
		t.Fatalf("got %v", err)
	}
}

func TestBridge_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(Config{Endpoint: url}).Dial(context.Background())
	if !device.IsKind(err, device.Unreachable) {
		t.Fatalf("expected Unreachable, got %v", err)
	}
}
