package web

import (
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"wpan-sniffer/internal/capture"
	"wpan-sniffer/internal/mac"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRecord(num uint64, typ mac.FrameType, fcs mac.FCSStatus) *capture.Record {
	res := &mac.Result{Frame: &mac.Frame{}}
	res.Frame.Type = typ
	res.Frame.SrcPAN = 0x1234
	res.FCS.Status = fcs
	return &capture.Record{Num: num, Result: res}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()
	defer hub.Stop()

	client := &wsClient{send: make(chan []byte, 16)}
	hub.register <- client

	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	count := len(hub.clients)
	hub.mu.RUnlock()
	if count != 1 {
		t.Errorf("after register: count = %d, want 1", count)
	}

	hub.unregister <- client

	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	count = len(hub.clients)
	hub.mu.RUnlock()
	if count != 0 {
		t.Errorf("after unregister: count = %d, want 0", count)
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()
	defer hub.Stop()

	c1 := &wsClient{send: make(chan []byte, 16)}
	c2 := &wsClient{send: make(chan []byte, 16)}

	hub.register <- c1
	hub.register <- c2
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(testRecord(1, mac.FrameData, mac.FCSOK))
	time.Sleep(10 * time.Millisecond)

	for i, c := range []*wsClient{c1, c2} {
		select {
		case msg := <-c.send:
			var out map[string]any
			if err := json.Unmarshal(msg, &out); err != nil {
				t.Fatalf("client %d: unmarshal: %v", i, err)
			}
			if out["type"] != "Data" {
				t.Errorf("client %d: type = %v", i, out["type"])
			}
		default:
			t.Errorf("client %d did not receive broadcast", i)
		}
	}
}

func TestHubSlowClientEviction(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()
	defer hub.Stop()

	slow := &wsClient{send: make(chan []byte)} // unbuffered, never read
	hub.register <- slow
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(testRecord(1, mac.FrameData, mac.FCSOK))
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	count := len(hub.clients)
	hub.mu.RUnlock()
	if count != 0 {
		t.Errorf("slow client not evicted: count = %d", count)
	}
}

func TestConsumeCountsStats(t *testing.T) {
	s := NewServer(testLogger())
	defer s.Stop()

	records := []*capture.Record{
		testRecord(1, mac.FrameData, mac.FCSOK),
		testRecord(2, mac.FrameData, mac.FCSBad),
		testRecord(3, mac.FrameBeacon, mac.FCSOK),
	}
	for _, rec := range records {
		if err := s.Consume(rec); err != nil {
			t.Fatalf("Consume: %v", err)
		}
	}

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest("GET", "/api/stats", nil))
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}

	var stats Stats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Frames != 3 {
		t.Errorf("frames = %d, want 3", stats.Frames)
	}
	if stats.FCSErrors != 1 {
		t.Errorf("fcs_errors = %d, want 1", stats.FCSErrors)
	}
	if stats.ByType["Data"] != 2 || stats.ByType["Beacon"] != 1 {
		t.Errorf("by_type = %v", stats.ByType)
	}
}
