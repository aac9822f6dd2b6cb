// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/pion/rtp"
	pionwebrtc "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/rapidaai/chirp/pkg/commons"
)

// Opus audio constants (WebRTC standard: 48kHz).
const (
	OpusSampleRate    = 48000
	OpusFrameDuration = 20  // milliseconds
	OpusFrameSamples  = 960 // 20ms at 48kHz
	OpusFrameBytes    = OpusFrameSamples * 2
	OpusChannels      = 2 // Opus RTP always signals 2 encoding channels (opus/48000/2) per RFC 7587, even for mono voice
	OpusSDPFmtpLine   = "minptime=10;useinbandfec=1;stereo=0;sprop-stereo=0"

	// RTPBufferSize is the max RTP packet size (MTU).
	RTPBufferSize = 1500

	// MaxConsecutiveErrors bounds remote track read errors before giving up.
	MaxConsecutiveErrors = 50
)

// ============================================================================
// Media engine (idempotent initialisation)
// ============================================================================

var (
	mediaOnce sync.Once
	mediaAPI  *pionwebrtc.API
	mediaErr  error
)

// mediaEngine initialises the shared pion API exactly once; a second call when
// already initialized is a no-op returning the same instance.
func mediaEngine() (*pionwebrtc.API, error) {
	mediaOnce.Do(func() {
		engine := &pionwebrtc.MediaEngine{}
		if err := engine.RegisterCodec(pionwebrtc.RTPCodecParameters{
			RTPCodecCapability: pionwebrtc.RTPCodecCapability{
				MimeType:    pionwebrtc.MimeTypeOpus,
				ClockRate:   OpusSampleRate,
				Channels:    OpusChannels,
				SDPFmtpLine: OpusSDPFmtpLine,
			},
			PayloadType: 111,
		}, pionwebrtc.RTPCodecTypeAudio); err != nil {
			mediaErr = fmt.Errorf("failed to register Opus codec: %w", err)
			return
		}
		mediaAPI = pionwebrtc.NewAPI(pionwebrtc.WithMediaEngine(engine))
	})
	return mediaAPI, mediaErr
}

// ============================================================================
// Capture source
// ============================================================================

// CaptureSource acquires the local microphone as a stream of s16le mono PCM
// at OpusSampleRate. Platform audio plumbing stays behind this interface.
type CaptureSource interface {
	// Start begins capture; the returned reader delivers raw PCM until closed.
	Start(ctx context.Context) (io.ReadCloser, error)
}

// FFmpegCapture shells out to an ffmpeg-compatible binary for microphone PCM.
type FFmpegCapture struct {
	Command string
	Format  string
	Device  string
}

// NewFFmpegCapture creates a capture source with defaults suitable for pulse.
func NewFFmpegCapture(command, format, device string) *FFmpegCapture {
	if command == "" {
		command = "ffmpeg"
	}
	if format == "" {
		format = "pulse"
	}
	if device == "" {
		device = "default"
	}
	return &FFmpegCapture{Command: command, Format: format, Device: device}
}

func (c *FFmpegCapture) Start(ctx context.Context) (io.ReadCloser, error) {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", c.Format,
		"-i", c.Device,
		"-ac", "1",
		"-ar", strconv.Itoa(OpusSampleRate),
		"-f", "s16le",
		"-",
	}
	cmd := exec.CommandContext(ctx, c.Command, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create capture pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start capture: %w", err)
	}

	go cmd.Wait() // reap; lifecycle is driven by ctx and the pipe

	return stdout, nil
}

// ============================================================================
// Local audio pump: capture PCM -> Opus -> WebRTC track
// ============================================================================

// pumpLocalAudio reads 20ms PCM frames from src, Opus-encodes them and writes
// samples onto the local track. Pacing comes from the capture source itself
// (a live microphone produces real-time PCM). Exits on ctx cancel or read error.
func pumpLocalAudio(ctx context.Context, logger commons.Logger, src io.Reader, track *pionwebrtc.TrackLocalStaticSample) {
	encoder, err := opus.NewEncoder(OpusSampleRate, 1, opus.AppVoIP)
	if err != nil {
		logger.Errorw("Failed to create Opus encoder", "error", err)
		return
	}

	frame := make([]byte, OpusFrameBytes)
	pcm := make([]int16, OpusFrameSamples)
	encoded := make([]byte, RTPBufferSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := io.ReadFull(src, frame); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				logger.Debugw("Capture read ended", "error", err)
			}
			return
		}
		for i := range pcm {
			pcm[i] = int16(frame[2*i]) | int16(frame[2*i+1])<<8
		}

		n, err := encoder.Encode(pcm, encoded)
		if err != nil {
			logger.Debugw("Opus encode failed", "error", err)
			continue
		}
		if err := track.WriteSample(media.Sample{
			Data:     append([]byte(nil), encoded[:n]...),
			Duration: OpusFrameDuration * time.Millisecond,
		}); err != nil {
			logger.Debugw("Failed to write sample to track", "error", err)
		}
	}
}

// ============================================================================
// Remote audio drain
// ============================================================================

// AudioSink receives decoded-side RTP payloads from the remote audio track.
// Playback is a platform concern; the default sink discards.
type AudioSink interface {
	Write(payload []byte)
}

type discardSink struct{}

func (discardSink) Write([]byte) {}

// drainRemoteAudio keeps reading the remote track so RTCP feedback and
// sequence bookkeeping stay healthy, handing payloads to the sink.
func drainRemoteAudio(ctx context.Context, logger commons.Logger, track *pionwebrtc.TrackRemote, sink AudioSink) {
	if sink == nil {
		sink = discardSink{}
	}

	buf := make([]byte, RTPBufferSize)
	consecutiveErrors := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			consecutiveErrors++
			if consecutiveErrors >= MaxConsecutiveErrors {
				logger.Errorw("Too many consecutive read errors, stopping audio reader", "lastError", err)
				return
			}
			continue
		}
		consecutiveErrors = 0

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			logger.Debugw("Failed to unmarshal RTP packet", "error", err)
			continue
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		sink.Write(pkt.Payload)
	}
}
