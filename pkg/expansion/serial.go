// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package expansion

import (
	"io"
	"sync"

	"github.com/tarm/serial"

	"motion-engine/pkg/log"
)

// Frame types on the expansion link.
const (
	frameSync        = 0xA5
	FrameHiccup      = 0x01
	FrameStopDriver  = 0x02
	framePayloadSize = 6
	frameSize        = 2 + framePayloadSize + 1
)

// SerialNotifier sends notification frames over a serial link. Frames are
// queued to a background writer so the stepping path never blocks on the
// port.
type SerialNotifier struct {
	mu     sync.Mutex
	port   io.WriteCloser
	queue  chan [frameSize]byte
	done   chan struct{}
	logger *log.Logger

	dropped uint32
}

// OpenSerialNotifier opens the serial port and starts the writer.
func OpenSerialNotifier(device string, baud int) (*SerialNotifier, error) {
	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return nil, err
	}
	return NewSerialNotifier(port), nil
}

// NewSerialNotifier wraps an already open port. Exposed for tests.
func NewSerialNotifier(port io.WriteCloser) *SerialNotifier {
	n := &SerialNotifier{
		port:   port,
		queue:  make(chan [frameSize]byte, 32),
		done:   make(chan struct{}),
		logger: log.GetLogger("expansion"),
	}
	go n.writeLoop()
	return n
}

func (n *SerialNotifier) writeLoop() {
	for frame := range n.queue {
		if _, err := n.port.Write(frame[:]); err != nil {
			n.logger.WithError(err).Warn("expansion link write failed")
		}
	}
	close(n.done)
}

// Close stops the writer and closes the port.
func (n *SerialNotifier) Close() error {
	close(n.queue)
	<-n.done
	return n.port.Close()
}

// HiccupInserted queues a hiccup frame. Dropped if the queue is full.
func (n *SerialNotifier) HiccupInserted(ticks uint32) {
	var payload [framePayloadSize]byte
	putUint32(payload[0:4], ticks)
	n.send(FrameHiccup, payload)
}

// DriverStopped queues a stop-driver frame. Dropped if the queue is full.
func (n *SerialNotifier) DriverStopped(drive int, netSteps int32) {
	var payload [framePayloadSize]byte
	payload[0] = byte(drive)
	putUint32(payload[1:5], uint32(netSteps))
	n.send(FrameStopDriver, payload)
}

func (n *SerialNotifier) send(frameType byte, payload [framePayloadSize]byte) {
	frame := EncodeFrame(frameType, payload)
	select {
	case n.queue <- frame:
	default:
		n.mu.Lock()
		n.dropped++
		n.mu.Unlock()
	}
}

// Dropped returns how many frames were discarded because the queue was
// full.
func (n *SerialNotifier) Dropped() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// EncodeFrame builds a wire frame: sync byte, type, payload, XOR checksum.
func EncodeFrame(frameType byte, payload [framePayloadSize]byte) [frameSize]byte {
	var frame [frameSize]byte
	frame[0] = frameSync
	frame[1] = frameType
	copy(frame[2:2+framePayloadSize], payload[:])
	var sum byte
	for _, b := range frame[:frameSize-1] {
		sum ^= b
	}
	frame[frameSize-1] = sum
	return frame
}

// DecodeFrame parses a wire frame, validating sync and checksum. Exposed
// for tests and for boards implemented in Go.
func DecodeFrame(frame []byte) (frameType byte, payload [framePayloadSize]byte, ok bool) {
	if len(frame) != frameSize || frame[0] != frameSync {
		return 0, payload, false
	}
	var sum byte
	for _, b := range frame[:frameSize-1] {
		sum ^= b
	}
	if sum != frame[frameSize-1] {
		return 0, payload, false
	}
	copy(payload[:], frame[2:2+framePayloadSize])
	return frame[1], payload, true
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
