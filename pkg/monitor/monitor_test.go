// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"motion-engine/pkg/motion"
)

type fakeEngine struct {
	mu      sync.Mutex
	stopped bool
	snap    motion.Diagnostics
}

func (e *fakeEngine) Snapshot(reset bool) motion.Diagnostics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

func (e *fakeEngine) EmergencyStop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
}

func (e *fakeEngine) wasStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

func testDiagnostics() motion.Diagnostics {
	return motion.Diagnostics{
		State:        "executing",
		QueuedMoves:  2,
		StepsEmitted: 12345,
		Hiccups:      1,
		HiccupTicks:  75,
		Positions:    []int32{100, -50, 0},
	}
}

func TestHandleStatus(t *testing.T) {
	engine := &fakeEngine{snap: testDiagnostics()}
	s := New(engine, ":0", 0)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	s.handleStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var msg statusMessage
	if err := json.Unmarshal(w.Body.Bytes(), &msg); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if msg.State != "executing" || msg.StepsEmitted != 12345 {
		t.Errorf("decoded %+v", msg)
	}
	if len(msg.Positions) != 3 || msg.Positions[1] != -50 {
		t.Errorf("positions = %v", msg.Positions)
	}
	if !strings.Contains(w.Body.String(), `"queued_moves":2`) {
		t.Errorf("body missing queued_moves: %s", w.Body.String())
	}
}

func TestHandleStatusMethodNotAllowed(t *testing.T) {
	s := New(&fakeEngine{}, ":0", 0)
	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	w := httptest.NewRecorder()
	s.handleStatus(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestWebSocketBroadcastAndEstop(t *testing.T) {
	engine := &fakeEngine{snap: testDiagnostics()}
	s := New(engine, ":0", 10*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	defer srv.Close()

	s.running.Store(true)
	go s.broadcastLoop()
	defer s.running.Store(false)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg statusMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("no broadcast received: %v", err)
	}
	if msg.State != "executing" {
		t.Errorf("broadcast state = %q", msg.State)
	}

	if err := conn.WriteJSON(map[string]string{"command": "estop"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !engine.wasStopped() {
		if time.Now().After(deadline) {
			t.Fatal("estop command never reached the engine")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Unknown commands are ignored, not fatal.
	if err := conn.WriteJSON(map[string]string{"command": "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("connection dropped after unknown command: %v", err)
	}
}

func TestServerStopDisconnectsClients(t *testing.T) {
	engine := &fakeEngine{snap: testDiagnostics()}
	s := New(engine, ":0", 10*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait until the server has registered the client.
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.clientMu.RLock()
		n := len(s.clients)
		s.clientMu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("read should fail after server stop")
	}
}
