// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package expansion

import (
	"sync"
	"testing"
	"time"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := [framePayloadSize]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	frame := EncodeFrame(FrameStopDriver, payload)

	typ, got, ok := DecodeFrame(frame[:])
	if !ok {
		t.Fatal("valid frame rejected")
	}
	if typ != FrameStopDriver {
		t.Errorf("type = %#x, want %#x", typ, FrameStopDriver)
	}
	if got != payload {
		t.Errorf("payload = %v, want %v", got, payload)
	}
}

func TestFrameRejectsCorruption(t *testing.T) {
	frame := EncodeFrame(FrameHiccup, [framePayloadSize]byte{})

	bad := frame
	bad[3] ^= 0xFF
	if _, _, ok := DecodeFrame(bad[:]); ok {
		t.Error("corrupted payload accepted")
	}

	bad = frame
	bad[0] = 0x00
	if _, _, ok := DecodeFrame(bad[:]); ok {
		t.Error("missing sync byte accepted")
	}

	if _, _, ok := DecodeFrame(frame[:frameSize-1]); ok {
		t.Error("short frame accepted")
	}
}

// fakePort collects frames written by the notifier.
type fakePort struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.writes = append(p.writes, append([]byte(nil), b...))
	p.mu.Unlock()
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) frames(t *testing.T, want int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		p.mu.Lock()
		n := len(p.writes)
		w := append([][]byte(nil), p.writes...)
		p.mu.Unlock()
		if n >= want {
			return w
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d frames, want %d", n, want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSerialNotifierSendsFrames(t *testing.T) {
	port := &fakePort{}
	n := NewSerialNotifier(port)

	n.HiccupInserted(0x12345678)
	n.DriverStopped(3, -42)

	writes := port.frames(t, 2)

	typ, payload, ok := DecodeFrame(writes[0])
	if !ok || typ != FrameHiccup {
		t.Fatalf("first frame type %#x ok=%v", typ, ok)
	}
	ticks := uint32(payload[0]) | uint32(payload[1])<<8 |
		uint32(payload[2])<<16 | uint32(payload[3])<<24
	if ticks != 0x12345678 {
		t.Errorf("hiccup ticks = %#x, want 0x12345678", ticks)
	}

	typ, payload, ok = DecodeFrame(writes[1])
	if !ok || typ != FrameStopDriver {
		t.Fatalf("second frame type %#x ok=%v", typ, ok)
	}
	if payload[0] != 3 {
		t.Errorf("drive = %d, want 3", payload[0])
	}
	steps := int32(uint32(payload[1]) | uint32(payload[2])<<8 |
		uint32(payload[3])<<16 | uint32(payload[4])<<24)
	if steps != -42 {
		t.Errorf("net steps = %d, want -42", steps)
	}

	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	port.mu.Lock()
	closed := port.closed
	port.mu.Unlock()
	if !closed {
		t.Error("port not closed")
	}
}

func TestNopNotifier(t *testing.T) {
	var n Notifier = Nop{}
	n.HiccupInserted(100)
	n.DriverStopped(0, 5)
}
