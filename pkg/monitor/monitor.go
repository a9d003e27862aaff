// Package monitor serves live scheduler diagnostics over HTTP and
// WebSocket so operators can watch step errors, hiccups and motor
// positions while the engine runs.
//
// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"motion-engine/pkg/log"
	"motion-engine/pkg/motion"
)

// Engine is the part of the controller the monitor talks to.
type Engine interface {
	Snapshot(reset bool) motion.Diagnostics
	EmergencyStop()
}

// Server streams diagnostics snapshots to connected clients.
type Server struct {
	engine Engine
	addr   string
	logger *log.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader

	clientMu sync.RWMutex
	clients  map[int64]*client
	nextID   int64

	running  atomic.Bool
	interval time.Duration
}

// New creates a monitor server. interval is the push period; zero picks
// 250ms.
func New(engine Engine, addr string, interval time.Duration) *Server {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	s := &Server{
		engine:   engine,
		addr:     addr,
		logger:   log.GetLogger("monitor"),
		clients:  make(map[int64]*client),
		interval: interval,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// Start runs the HTTP server; it blocks until the server stops.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}
	s.running.Store(true)
	s.logger.Info("monitor listening on %s", s.addr)

	go s.broadcastLoop()

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down and disconnects all clients.
func (s *Server) Stop() error {
	s.running.Store(false)

	s.clientMu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[int64]*client)
	s.clientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(context.Background())
	}
	return nil
}

// handleStatus serves one diagnostics snapshot as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(newStatusMessage(s.engine.Snapshot(false)))
}

// statusMessage is the wire form of a snapshot.
type statusMessage struct {
	State           string  `json:"state"`
	QueuedMoves     int     `json:"queued_moves"`
	SegmentsCreated uint32  `json:"segments_created"`
	StepsEmitted    uint64  `json:"steps_emitted"`
	StepErrors      uint32  `json:"step_errors"`
	Hiccups         uint32  `json:"hiccups"`
	HiccupTicks     uint64  `json:"hiccup_ticks"`
	MaxTicksLate    int32   `json:"max_ticks_late"`
	MovementDelay   uint32  `json:"movement_delay"`
	Positions       []int32 `json:"positions"`
}

func newStatusMessage(d motion.Diagnostics) statusMessage {
	return statusMessage{
		State:           d.State,
		QueuedMoves:     d.QueuedMoves,
		SegmentsCreated: d.SegmentsCreated,
		StepsEmitted:    d.StepsEmitted,
		StepErrors:      d.StepErrors,
		Hiccups:         d.Hiccups,
		HiccupTicks:     d.HiccupTicks,
		MaxTicksLate:    d.MaxTicksLate,
		MovementDelay:   d.MovementDelay,
		Positions:       d.Positions,
	}
}

type client struct {
	id     int64
	conn   *websocket.Conn
	sendCh chan statusMessage
	done   chan struct{}
	mu     sync.Mutex
}

func (c *client) send(msg statusMessage) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		// Slow client; skip this update.
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}
	c.conn.Close()
}

// handleWebSocket upgrades the connection and streams snapshots until the
// client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{
		id:     atomic.AddInt64(&s.nextID, 1),
		conn:   conn,
		sendCh: make(chan statusMessage, 8),
		done:   make(chan struct{}),
	}
	s.clientMu.Lock()
	s.clients[c.id] = c
	s.clientMu.Unlock()
	s.logger.Debug("client %d connected", c.id)

	go s.writePump(c)
	s.readPump(c)
}

// readPump consumes client commands. The only supported command is
// "estop", which triggers an emergency stop.
func (s *Server) readPump(c *client) {
	defer func() {
		s.removeClient(c)
		c.close()
	}()

	c.conn.SetReadLimit(4 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.WithError(err).Debug("websocket read error")
			}
			return
		}
		var cmd struct {
			Command string `json:"command"`
		}
		if json.Unmarshal(message, &cmd) != nil {
			continue
		}
		if cmd.Command == "estop" {
			s.logger.Warn("emergency stop requested by client %d", c.id)
			s.engine.EmergencyStop()
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.clientMu.Lock()
	delete(s.clients, c.id)
	s.clientMu.Unlock()
	s.logger.Debug("client %d disconnected", c.id)
}

// broadcastLoop pushes snapshots to all clients at the configured rate.
func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for s.running.Load() {
		<-ticker.C
		s.clientMu.RLock()
		n := len(s.clients)
		s.clientMu.RUnlock()
		if n == 0 {
			continue
		}
		msg := newStatusMessage(s.engine.Snapshot(false))
		s.clientMu.RLock()
		for _, c := range s.clients {
			c.send(msg)
		}
		s.clientMu.RUnlock()
	}
}
