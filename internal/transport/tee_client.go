/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// The network tee is fire-and-forget diagnostic traffic from the modem
// thread (never the realtime callback): one HTTP POST per mono block,
// framed with a small fixed header so a collector can validate it's
// duplexaudio traffic and order/dedupe by sequence number. No handshake or
// persistent connection, since there's nothing bidirectional to negotiate.

// teeMagic tags every frame this client sends.
const teeMagic uint32 = 0x44585054 // "DXPT"

// teeHeaderSize: magic(4) + sessionID(4) + sequence(4) + unixSeconds(4).
const teeHeaderSize = 16

// teeFrame serializes a PCM16 tee payload behind the fixed header above.
func teeFrame(sessionID, sequence uint32, payload []byte) []byte {
	buf := make([]byte, teeHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], teeMagic)
	binary.BigEndian.PutUint32(buf[4:8], sessionID)
	binary.BigEndian.PutUint32(buf[8:12], sequence)
	binary.BigEndian.PutUint32(buf[12:16], uint32(time.Now().Unix()))
	copy(buf[teeHeaderSize:], payload)
	return buf
}

// HTTPStreamingClient posts framed PCM16 blocks to a remote tee collector
// over plain HTTP, one POST per block.
type HTTPStreamingClient struct {
	collectorURL string
	deviceID     string
	sessionID    uint32

	mu       sync.Mutex
	sequence uint32

	httpClient *http.Client
}

// NewHTTPStreamingClient creates a client posting to
// collectorURL/tee/deviceID.
func NewHTTPStreamingClient(collectorURL, deviceID string) *HTTPStreamingClient {
	return &HTTPStreamingClient{
		collectorURL: collectorURL,
		deviceID:     deviceID,
		sessionID:    rand.Uint32(),
		httpClient:   &http.Client{Timeout: 5 * time.Second},
	}
}

// SendAudioData posts one PCM16 payload, framed with the next sequence
// number.
func (c *HTTPStreamingClient) SendAudioData(payload []byte) error {
	c.mu.Lock()
	c.sequence++
	seq := c.sequence
	c.mu.Unlock()

	frame := teeFrame(c.sessionID, seq, payload)
	url := fmt.Sprintf("%s/tee/%s", c.collectorURL, c.deviceID)
	resp, err := c.httpClient.Post(url, "application/octet-stream", bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("transport: post tee frame: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transport: tee collector returned status %d", resp.StatusCode)
	}
	return nil
}

// SendHeartbeat posts a zero-length frame to keep the collector's session
// for this device from expiring between audio blocks.
func (c *HTTPStreamingClient) SendHeartbeat() error {
	return c.SendAudioData(nil)
}

// FrameWriter satisfies the duplex package's TeeWriter contract by
// converting each mono float64 block into 16-bit PCM and posting it to a
// remote tee collector.
type FrameWriter struct {
	client *HTTPStreamingClient
	stop   chan struct{}
	done   chan struct{}
}

// NewFrameWriter returns a FrameWriter ready for TeeMono calls; it never
// blocks on an initial handshake, since SendAudioData's framing carries
// everything a collector needs to identify the session per request.
func NewFrameWriter(collectorURL, deviceID string) (*FrameWriter, error) {
	w := &FrameWriter{
		client: NewHTTPStreamingClient(collectorURL, deviceID),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.heartbeatLoop()
	return w, nil
}

func (w *FrameWriter) heartbeatLoop() {
	defer close(w.done)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.client.SendHeartbeat(); err != nil {
				log.Printf("⚠️ transport: tee heartbeat failed: %v", err)
			}
		}
	}
}

// TeeMono frames samples as PCM16 and posts them to the collector.
// Intended to be called from the modem thread only, never from the
// realtime backend callback.
func (w *FrameWriter) TeeMono(samples []float64) error {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		scaled := s * 32768
		var v int16
		switch {
		case scaled > 32767:
			v = 32767
		case scaled < -32768:
			v = -32768
		default:
			v = int16(scaled)
		}
		data[i*2] = byte(v)
		data[i*2+1] = byte(v >> 8)
	}
	return w.client.SendAudioData(data)
}

// Close stops the heartbeat loop. The underlying HTTP client has no
// persistent connection to tear down.
func (w *FrameWriter) Close() error {
	close(w.stop)
	<-w.done
	return nil
}
