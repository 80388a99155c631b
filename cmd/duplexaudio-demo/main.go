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

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/duplexaudio/internal/backend"
	"github.com/loqalabs/duplexaudio/internal/duplex"
	"github.com/loqalabs/duplexaudio/internal/settings"
	"github.com/loqalabs/duplexaudio/internal/telemetry"
)

func main() {
	backendName := flag.String("backend", "null", "audio backend: null, portaudio-blocking, portaudio-callback")
	rate := flag.Int("rate", 8000, "modem-facing sample rate (Hz)")
	inDevice := flag.String("in-device", "", "input device name (empty = system default)")
	outDevice := flag.String("out-device", "", "output device name (empty = system default)")
	capturePath := flag.String("capture", "", "tee captured audio to this sound file (wav/flac/au)")
	natsURL := flag.String("nats-url", "", "publish telemetry to this NATS server (empty = disabled)")
	telemetrySubject := flag.String("telemetry-subject", "duplexaudio.telemetry", "NATS subject for telemetry events")
	blockSeconds := flag.Int("duration", 0, "stop automatically after N seconds (0 = run until Ctrl+C)")
	flag.Parse()

	log.Printf("🎧 Starting duplexaudio demo")
	log.Printf("📋 Backend: %s", *backendName)
	log.Printf("🎯 Rate: %d Hz", *rate)

	be, err := selectBackend(*backendName)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	pub := telemetry.Publisher(telemetry.NoopPublisher{})
	if *natsURL != "" {
		p, err := telemetry.NewNATSPublisher(*natsURL, *telemetrySubject)
		if err != nil {
			log.Fatalf("❌ Failed to connect telemetry to NATS: %v", err)
		}
		defer p.Close()
		pub = p
		log.Printf("📡 Telemetry: publishing to %s @ %s", *telemetrySubject, *natsURL)
	}

	src := settings.NewStatic(settings.Snapshot{
		InSampleRate:     backend.RateSetting{Mode: backend.RateAuto},
		OutSampleRate:    backend.RateSetting{Mode: backend.RateAuto},
		InputDeviceName:  *inDevice,
		OutputDeviceName: *outDevice,
		FramesPerBuffer:  512,
	})

	facade := duplex.NewFacade(be, src, pub)
	if err := facade.Open(duplex.ModeRead|duplex.ModeWrite, *rate); err != nil {
		log.Fatalf("❌ Failed to open duplex stream: %v", err)
	}

	if *capturePath != "" {
		if err := facade.Capture(true, *capturePath); err != nil {
			log.Fatalf("❌ Failed to open capture file: %v", err)
		}
		log.Printf("💾 Capture: teeing to %s", *capturePath)
	}

	fmt.Println()
	fmt.Println("🔊 duplexaudio loopback demo — echoing capture straight to playback")
	fmt.Println("==================================================================")
	fmt.Println()
	fmt.Println("⏹️  Press Ctrl+C to stop")
	fmt.Println()

	stop := make(chan struct{})
	go runLoopback(facade, stop)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if *blockSeconds > 0 {
		select {
		case <-sigChan:
		case <-time.After(time.Duration(*blockSeconds) * time.Second):
		}
	} else {
		<-sigChan
	}

	log.Println("🛑 Shutting down duplexaudio demo...")
	close(stop)

	if err := facade.Flush(duplex.DirBoth); err != nil {
		log.Printf("⚠️  Flush error: %v", err)
	}
	if err := facade.Close(duplex.DirBoth); err != nil {
		log.Printf("⚠️  Close error: %v", err)
	}
	if err := facade.Capture(false, ""); err != nil {
		log.Printf("⚠️  Capture close error: %v", err)
	}

	log.Println("👋 duplexaudio demo stopped")
}

func selectBackend(name string) (backend.Backend, error) {
	switch name {
	case "null":
		return backend.NewNullBackend(), nil
	case "portaudio-blocking":
		return backend.NewPortAudioBlockingBackend(), nil
	case "portaudio-callback":
		return backend.NewPortAudioCallbackBackend(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

// runLoopback reads captured blocks and writes them straight back to
// playback, until stop is closed or a read/write error ends the loop.
func runLoopback(facade *duplex.Facade, stop <-chan struct{}) {
	buf := make([]float64, 512)
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := facade.ReadMono(buf)
		if err != nil {
			log.Printf("⚠️  Read stopped: %v", err)
			return
		}
		if n == 0 {
			continue
		}
		if _, err := facade.WriteMono(buf[:n]); err != nil {
			log.Printf("⚠️  Write stopped: %v", err)
			return
		}
	}
}
