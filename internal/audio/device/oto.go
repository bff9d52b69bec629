package device

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/yegors/voxdesk/pkg/logger"
)

// OtoSink plays float mono buffers through the default output device.
// oto allows one context per process, so create a single sink.
type OtoSink struct {
	otoCtx *oto.Context
	logger *logger.Logger
	poll   time.Duration
}

// NewOtoSink opens the output device and waits until it is ready
func NewOtoSink(sampleRate int, bufferMs int, log *logger.Logger) (*OtoSink, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if bufferMs <= 0 {
		bufferMs = 100
	}

	opts := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
		BufferSize:   time.Duration(bufferMs) * time.Millisecond,
	}
	otoCtx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to init speaker: %w", err)
	}
	<-ready

	log.Named("oto").Info("Speaker opened",
		logger.Int("sample_rate", sampleRate),
		logger.Int("buffer_ms", bufferMs))

	return &OtoSink{
		otoCtx: otoCtx,
		logger: log.Named("oto"),
		poll:   10 * time.Millisecond,
	}, nil
}

// Play writes samples to a fresh player and blocks until it drains or ctx
// is cancelled
func (s *OtoSink) Play(ctx context.Context, samples []float32) error {
	buf := make([]byte, len(samples)*4)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}

	player := s.otoCtx.NewPlayer(bytes.NewReader(buf))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
			if !player.IsPlaying() {
				return player.Err()
			}
		}
	}
}
