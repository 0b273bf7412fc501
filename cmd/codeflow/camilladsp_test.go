package main

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeCamilla answers GetVolume/SetVolume like the CamillaDSP websocket API.
type fakeCamilla struct {
	mu       sync.Mutex
	volumeDB float64
	sets     []float64
}

func (f *fakeCamilla) handler(t *testing.T) http.HandlerFunc {
	up := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var reply any
			if string(msg) == `"GetVolume"` {
				f.mu.Lock()
				reply = map[string]any{"GetVolume": map[string]any{"result": "Ok", "value": f.volumeDB}}
				f.mu.Unlock()
			} else {
				var cmd struct {
					SetVolume float64 `json:"SetVolume"`
				}
				if err := json.Unmarshal(msg, &cmd); err != nil {
					t.Errorf("unexpected command %s", msg)
					return
				}
				f.mu.Lock()
				f.volumeDB = cmd.SetVolume
				f.sets = append(f.sets, cmd.SetVolume)
				f.mu.Unlock()
				reply = map[string]any{"SetVolume": map[string]any{"result": "Ok"}}
			}
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	}
}

func TestCamillaDevice(t *testing.T) {
	fake := &fakeCamilla{volumeDB: 0}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	logger, _ := newTestLogger()
	d := newCamillaDevice(CamillaDSPConfig{
		WsURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		MinDB: -65,
		MaxDB: 0,
	}, time.Second, logger)
	defer d.Close()

	ctx := context.Background()
	v, err := d.GetVolume(ctx)
	if err != nil {
		t.Fatalf("GetVolume: %v", err)
	}
	if v != 100 {
		t.Fatalf("GetVolume = %d, want 100 at max dB", v)
	}

	if err := d.SetVolume(ctx, 0); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	fake.mu.Lock()
	sets := append([]float64(nil), fake.sets...)
	fake.mu.Unlock()
	if len(sets) != 1 || sets[0] != -65 {
		t.Fatalf("sets = %v, want [-65]", sets)
	}

	// Reconnects after the connection is dropped
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if v, err := d.GetVolume(ctx); err != nil || v != 0 {
		t.Fatalf("GetVolume after reconnect = %d, %v", v, err)
	}
}

func TestCamillaDevice_SetVolumeBadReply(t *testing.T) {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	logger, _ := newTestLogger()
	d := newCamillaDevice(CamillaDSPConfig{
		WsURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		MinDB: -65,
		MaxDB: 0,
	}, time.Second, logger)
	defer d.Close()

	err := d.SetVolume(context.Background(), 50)
	if err == nil || !strings.Contains(err.Error(), "decode response") {
		t.Fatalf("SetVolume err = %v, want a decode error", err)
	}
}

func TestCamillaDevice_Unreachable(t *testing.T) {
	logger, _ := newTestLogger()
	d := newCamillaDevice(CamillaDSPConfig{WsURL: "ws://127.0.0.1:1", MinDB: -65, MaxDB: 0}, 200*time.Millisecond, logger)
	if _, err := d.GetVolume(context.Background()); err == nil {
		t.Fatal("expected error for unreachable CamillaDSP")
	}
}

func TestPercentDBMapping(t *testing.T) {
	const minDB, maxDB = -65.0, 0.0
	if got := percentToDB(0, minDB, maxDB); got != minDB {
		t.Fatalf("percentToDB(0) = %v", got)
	}
	if got := percentToDB(100, minDB, maxDB); got != maxDB {
		t.Fatalf("percentToDB(100) = %v", got)
	}
	prev := math.Inf(-1)
	for p := 0; p <= 100; p++ {
		db := percentToDB(p, minDB, maxDB)
		if db < prev {
			t.Fatalf("percentToDB not monotonic at %d", p)
		}
		prev = db
		if back := dbToPercent(db, minDB, maxDB); back != p {
			t.Fatalf("dbToPercent(percentToDB(%d)) = %d", p, back)
		}
	}
	if got := dbToPercent(-90, minDB, maxDB); got != 0 {
		t.Fatalf("dbToPercent below range = %d, want 0", got)
	}
}
