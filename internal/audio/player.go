package audio

import (
	"context"
	"errors"
	"sync"

	"github.com/yegors/voxdesk/pkg/logger"
)

// Sink is a speaker. Play blocks until the buffer has finished playing or
// ctx is cancelled, in which case output must stop immediately.
type Sink interface {
	Play(ctx context.Context, samples []float32) error
}

// Player plays decoded buffers strictly in arrival order, one at a time
type Player struct {
	sink   Sink
	logger *logger.Logger

	mu            sync.Mutex
	queue         [][]float32
	playing       bool
	generation    uint64
	cancelCurrent context.CancelFunc
	closed        bool
}

// NewPlayer creates a player on top of sink
func NewPlayer(sink Sink, log *logger.Logger) *Player {
	if log == nil {
		log = logger.NewNop()
	}
	return &Player{sink: sink, logger: log.Named("player")}
}

// EnqueueBase64 decodes a base64 PCM16 buffer and queues it
func (p *Player) EnqueueBase64(b64 string) error {
	samples, err := DecodeChunk(b64)
	if err != nil {
		return err
	}
	p.Enqueue(samples)
	return nil
}

// Enqueue appends a buffer and starts the playback loop if it is idle
func (p *Player) Enqueue(samples []float32) {
	if len(samples) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.queue = append(p.queue, samples)
	if !p.playing {
		p.playing = true
		go p.loop(p.generation)
	}
}

func (p *Player) loop(gen uint64) {
	for {
		p.mu.Lock()
		if p.generation != gen {
			p.mu.Unlock()
			return
		}
		if len(p.queue) == 0 {
			p.playing = false
			p.cancelCurrent = nil
			p.mu.Unlock()
			return
		}
		buf := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		ctx, cancel := context.WithCancel(context.Background())
		p.cancelCurrent = cancel
		p.mu.Unlock()

		err := p.sink.Play(ctx, buf)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("Playback failed", Error(err))
		}
	}
}

// Stop interrupts the current buffer, discards everything queued and resets
// the playing flag. A later Enqueue starts a fresh loop.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancelCurrent != nil {
		p.cancelCurrent()
		p.cancelCurrent = nil
	}
	dropped := len(p.queue)
	p.queue = nil
	wasPlaying := p.playing
	p.playing = false
	p.generation++

	if wasPlaying {
		p.logger.Debug("Playback interrupted", Int("dropped_buffers", dropped))
	}
}

// Playing reports whether the loop is running
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Queued returns the number of buffers waiting to play
func (p *Player) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close stops playback and rejects further buffers
func (p *Player) Close() {
	p.Stop()
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
