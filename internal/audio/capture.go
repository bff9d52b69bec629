package audio

import (
	"runtime"
	"sync"
)

// Strategy names for capture processing
const (
	StrategyAuto   = "auto"
	StrategyWorker = "worker"
	StrategyInline = "inline"
)

// ChunkFunc receives one base64 PCM16 chunk of exactly ChunkSamples samples
type ChunkFunc func(b64 string)

// Processor turns raw capture callbacks into encoded chunks. Implementations
// emit chunks in capture order.
type Processor interface {
	// Process is called from the device callback with float samples
	Process(samples []float32)
	// Close stops processing and drops any partial chunk
	Close()
	Name() string
}

// Capabilities describes what the runtime environment supports
type Capabilities struct {
	Worker bool
}

// DetectCapabilities probes the current process. A dedicated processing
// goroutine is only worthwhile with more than one OS thread available.
func DetectCapabilities() Capabilities {
	return Capabilities{Worker: runtime.GOMAXPROCS(0) > 1}
}

// SelectStrategy resolves a configured strategy against the capabilities.
// A worker preference falls back to inline when workers are unavailable.
func SelectStrategy(preferred string, caps Capabilities) string {
	switch preferred {
	case StrategyInline:
		return StrategyInline
	case StrategyWorker, StrategyAuto, "":
		if caps.Worker {
			return StrategyWorker
		}
		return StrategyInline
	default:
		return StrategyInline
	}
}

// NewProcessor builds the processor for an already resolved strategy
func NewProcessor(strategy string, chunkSamples int, emit ChunkFunc) Processor {
	if strategy == StrategyWorker {
		return newWorkerProcessor(chunkSamples, emit)
	}
	return newInlineProcessor(chunkSamples, emit)
}

// inlineProcessor frames and encodes on the device callback itself
type inlineProcessor struct {
	mu     sync.Mutex
	framer *Framer
	emit   ChunkFunc
	closed bool
}

func newInlineProcessor(chunkSamples int, emit ChunkFunc) *inlineProcessor {
	return &inlineProcessor{framer: NewFramer(chunkSamples), emit: emit}
}

func (p *inlineProcessor) Process(samples []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.framer.Write(samples, func(chunk []float32) {
		p.emit(EncodeChunk(chunk))
	})
}

func (p *inlineProcessor) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.framer.Reset()
}

func (p *inlineProcessor) Name() string { return StrategyInline }

// workerProcessor hands samples to a dedicated goroutine so the device
// callback returns immediately
type workerProcessor struct {
	in     chan []float32
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

func newWorkerProcessor(chunkSamples int, emit ChunkFunc) *workerProcessor {
	p := &workerProcessor{
		in:   make(chan []float32, 64),
		done: make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		framer := NewFramer(chunkSamples)
		for samples := range p.in {
			framer.Write(samples, func(chunk []float32) {
				emit(EncodeChunk(chunk))
			})
		}
	}()
	return p
}

func (p *workerProcessor) Process(samples []float32) {
	// the device reuses its buffer after the callback returns
	cp := make([]float32, len(samples))
	copy(cp, samples)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.in <- cp
}

func (p *workerProcessor) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.in)
	p.mu.Unlock()
	<-p.done
}

func (p *workerProcessor) Name() string { return StrategyWorker }
