package audio

import (
	"context"
	"sync"

	"github.com/yegors/voxdesk/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Int    = logger.Int
	Bool   = logger.Bool
	Error  = logger.Error
)

// CaptureOptions describes the requested input stream
type CaptureOptions struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Source is a microphone. Start begins delivering float samples to fn from
// the device's own callback and fails if the device cannot be opened.
type Source interface {
	Start(ctx context.Context, opts CaptureOptions, fn func(samples []float32)) error
	Stop() error
}

// RecorderConfig configures a Recorder
type RecorderConfig struct {
	Strategy     string // auto, worker or inline
	ChunkSamples int
	Capture      CaptureOptions
}

// Recorder streams fixed-size encoded chunks from a Source
type Recorder struct {
	source    Source
	chunkSize int
	capture   CaptureOptions
	strategy  string
	logger    *logger.Logger

	mu        sync.Mutex
	recording bool
	processor Processor
}

// NewRecorder creates a recorder. The processing strategy is resolved once
// here against caps and never changes afterwards.
func NewRecorder(source Source, cfg RecorderConfig, caps Capabilities, log *logger.Logger) *Recorder {
	if cfg.ChunkSamples <= 0 {
		cfg.ChunkSamples = ChunkSamples
	}
	if cfg.Capture.SampleRate <= 0 {
		cfg.Capture.SampleRate = SampleRate
	}
	if cfg.Capture.Channels <= 0 {
		cfg.Capture.Channels = 1
	}
	if log == nil {
		log = logger.NewNop()
	}

	strategy := SelectStrategy(cfg.Strategy, caps)
	log = log.Named("recorder")
	if cfg.Strategy == StrategyWorker && strategy != StrategyWorker {
		log.Warn("Worker capture unavailable, falling back to inline processing")
	}

	return &Recorder{
		source:    source,
		chunkSize: cfg.ChunkSamples,
		capture:   cfg.Capture,
		strategy:  strategy,
		logger:    log,
	}
}

// Strategy returns the processing strategy chosen at construction
func (r *Recorder) Strategy() string {
	return r.strategy
}

// Recording reports whether capture is active
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Start opens the source and streams chunks to emit until Stop. Failing to
// open the device returns a MediaAccessError and leaves the recorder stopped.
func (r *Recorder) Start(ctx context.Context, emit ChunkFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return nil
	}

	processor := NewProcessor(r.strategy, r.chunkSize, emit)
	if err := r.source.Start(ctx, r.capture, processor.Process); err != nil {
		processor.Close()
		r.logger.Error("Failed to open capture device", Error(err))
		return &MediaAccessError{Err: err}
	}

	r.processor = processor
	r.recording = true
	r.logger.Info("Recording started",
		String("strategy", r.strategy),
		Int("sample_rate", r.capture.SampleRate),
		Int("chunk_samples", r.chunkSize))
	return nil
}

// Stop releases the device. It is a no-op when not recording.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return
	}

	if err := r.source.Stop(); err != nil {
		r.logger.Warn("Error stopping capture device", Error(err))
	}
	r.processor.Close()
	r.processor = nil
	r.recording = false
	r.logger.Info("Recording stopped")
}
