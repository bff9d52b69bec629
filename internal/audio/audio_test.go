package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

func TestFloatToPCM16_ClipsAndScales(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32768},
		{1.5, 32767},
		{-2, -32768},
		{0.5, 16384},
		{-0.5, -16384},
	}

	for _, tt := range tests {
		pcm := FloatToPCM16([]float32{tt.in})
		got := int16(uint16(pcm[0]) | uint16(pcm[1])<<8)
		if got != tt.want {
			t.Fatalf("FloatToPCM16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestChunk_RoundTripWithinTolerance(t *testing.T) {
	in := []float32{0, 0.25, -0.25, 0.999, -0.999, 1, -1, 0.123456, -0.654321}
	out, err := DecodeChunk(EncodeChunk(in))
	if err != nil {
		t.Fatalf("DecodeChunk() error = %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if diff := math.Abs(float64(out[i] - in[i])); diff > 1.0/32768 {
			t.Fatalf("sample %d: got %v want %v (diff %v)", i, out[i], in[i], diff)
		}
	}
}

func TestPCM16ToFloat_OddLength(t *testing.T) {
	if _, err := PCM16ToFloat([]byte{1, 2, 3}); err == nil {
		t.Fatalf("PCM16ToFloat(odd) error = nil")
	}
}

func TestFramer_EmitsFixedChunks(t *testing.T) {
	f := NewFramer(ChunkSamples)
	var sizes []int
	emit := func(chunk []float32) { sizes = append(sizes, len(chunk)) }

	f.Write(make([]float32, 1000), emit)
	f.Write(make([]float32, 3000), emit)
	f.Write(make([]float32, 4096), emit)

	// 8096 samples -> 3 full chunks, 1952 pending
	if len(sizes) != 3 {
		t.Fatalf("chunks = %d, want 3", len(sizes))
	}
	for _, n := range sizes {
		if n != ChunkSamples {
			t.Fatalf("chunk size = %d, want %d", n, ChunkSamples)
		}
	}
	if f.Pending() != 8096-3*ChunkSamples {
		t.Fatalf("Pending() = %d", f.Pending())
	}
}

func TestSelectStrategy(t *testing.T) {
	tests := []struct {
		preferred string
		caps      Capabilities
		want      string
	}{
		{StrategyAuto, Capabilities{Worker: true}, StrategyWorker},
		{StrategyAuto, Capabilities{Worker: false}, StrategyInline},
		{StrategyWorker, Capabilities{Worker: false}, StrategyInline},
		{StrategyInline, Capabilities{Worker: true}, StrategyInline},
		{"", Capabilities{Worker: true}, StrategyWorker},
	}
	for _, tt := range tests {
		if got := SelectStrategy(tt.preferred, tt.caps); got != tt.want {
			t.Fatalf("SelectStrategy(%q, %+v) = %q, want %q", tt.preferred, tt.caps, got, tt.want)
		}
	}
}

// fakeSource feeds samples synchronously from Push
type fakeSource struct {
	mu      sync.Mutex
	fn      func([]float32)
	failErr error
	stops   int
}

func (s *fakeSource) Start(ctx context.Context, opts CaptureOptions, fn func([]float32)) error {
	if s.failErr != nil {
		return s.failErr
	}
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	s.fn = nil
	s.stops++
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) Push(samples []float32) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

func TestRecorder_BothStrategiesEmitSameChunks(t *testing.T) {
	for _, strategy := range []string{StrategyInline, StrategyWorker} {
		t.Run(strategy, func(t *testing.T) {
			src := &fakeSource{}
			rec := NewRecorder(src, RecorderConfig{Strategy: strategy}, Capabilities{Worker: true}, nil)
			if rec.Strategy() != strategy {
				t.Fatalf("Strategy() = %q, want %q", rec.Strategy(), strategy)
			}

			var mu sync.Mutex
			var chunks []string
			if err := rec.Start(context.Background(), func(b64 string) {
				mu.Lock()
				chunks = append(chunks, b64)
				mu.Unlock()
			}); err != nil {
				t.Fatalf("Start() error = %v", err)
			}

			samples := make([]float32, 512)
			for i := range samples {
				samples[i] = float32(i) / 512
			}
			for i := 0; i < 9; i++ {
				src.Push(samples)
			}
			rec.Stop()
			rec.Stop()

			mu.Lock()
			defer mu.Unlock()
			// 9*512 = 4608 samples -> 2 chunks
			if len(chunks) != 2 {
				t.Fatalf("chunks = %d, want 2", len(chunks))
			}
			for _, c := range chunks {
				decoded, err := DecodeChunk(c)
				if err != nil {
					t.Fatalf("DecodeChunk() error = %v", err)
				}
				if len(decoded) != ChunkSamples {
					t.Fatalf("decoded samples = %d, want %d", len(decoded), ChunkSamples)
				}
			}
			if src.stops != 1 {
				t.Fatalf("source stops = %d, want 1", src.stops)
			}
		})
	}
}

func TestRecorder_StartFailureIsMediaAccessError(t *testing.T) {
	denied := errors.New("permission denied")
	rec := NewRecorder(&fakeSource{failErr: denied}, RecorderConfig{}, Capabilities{}, nil)

	err := rec.Start(context.Background(), func(string) {})
	var mediaErr *MediaAccessError
	if !errors.As(err, &mediaErr) || !errors.Is(err, denied) {
		t.Fatalf("Start() error = %v, want MediaAccessError wrapping %v", err, denied)
	}
	if rec.Recording() {
		t.Fatalf("Recording() = true after failed start")
	}
	rec.Stop()
}

// fakeSink records started buffers. Each Play blocks until released or cancelled.
type fakeSink struct {
	mu      sync.Mutex
	started []float32 // first sample of each buffer identifies it
	done    []float32
	release chan struct{}
	begin   chan float32
	ended   chan float32
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		release: make(chan struct{}),
		begin:   make(chan float32, 16),
		ended:   make(chan float32, 16),
	}
}

func (s *fakeSink) Play(ctx context.Context, samples []float32) error {
	s.mu.Lock()
	s.started = append(s.started, samples[0])
	s.mu.Unlock()
	s.begin <- samples[0]
	defer func() { s.ended <- samples[0] }()

	select {
	case <-s.release:
		s.mu.Lock()
		s.done = append(s.done, samples[0])
		s.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeSink) snapshot() (started, done []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float32(nil), s.started...), append([]float32(nil), s.done...)
}

func waitBegin(t *testing.T, s *fakeSink, want float32) {
	t.Helper()
	select {
	case got := <-s.begin:
		if got != want {
			t.Fatalf("started buffer %v, want %v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("buffer %v never started", want)
	}
}

func TestPlayer_PlaysInFIFOOrder(t *testing.T) {
	sink := newFakeSink()
	p := NewPlayer(sink, nil)

	p.Enqueue([]float32{1})
	p.Enqueue([]float32{2})
	p.Enqueue([]float32{3})

	for _, id := range []float32{1, 2, 3} {
		waitBegin(t, sink, id)
		sink.release <- struct{}{}
	}

	deadline := time.Now().Add(time.Second)
	for p.Playing() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if p.Playing() {
		t.Fatalf("Playing() = true after queue drained")
	}
	_, done := sink.snapshot()
	if len(done) != 3 || done[0] != 1 || done[1] != 2 || done[2] != 3 {
		t.Fatalf("played = %v, want [1 2 3]", done)
	}
}

func TestPlayer_StopDiscardsQueueAndRestartsFresh(t *testing.T) {
	sink := newFakeSink()
	p := NewPlayer(sink, nil)

	p.Enqueue([]float32{1})
	p.Enqueue([]float32{2})
	p.Enqueue([]float32{3})

	waitBegin(t, sink, 1)
	sink.release <- struct{}{}
	waitBegin(t, sink, 2)

	p.Stop()
	if p.Playing() || p.Queued() != 0 {
		t.Fatalf("after Stop: playing=%v queued=%d", p.Playing(), p.Queued())
	}
	for ended := float32(0); ended != 2; {
		select {
		case ended = <-sink.ended:
		case <-time.After(time.Second):
			t.Fatalf("interrupted buffer did not stop")
		}
	}

	p.Enqueue([]float32{4})
	waitBegin(t, sink, 4)
	sink.release <- struct{}{}

	deadline := time.Now().Add(time.Second)
	for p.Playing() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	started, done := sink.snapshot()
	for _, id := range started {
		if id == 3 {
			t.Fatalf("buffer 3 played after interruption: %v", started)
		}
	}
	if len(done) != 2 || done[0] != 1 || done[1] != 4 {
		t.Fatalf("completed = %v, want [1 4]", done)
	}
}

func TestPlayer_EnqueueBase64(t *testing.T) {
	sink := newFakeSink()
	p := NewPlayer(sink, nil)

	if err := p.EnqueueBase64("not base64!"); err == nil {
		t.Fatalf("EnqueueBase64(invalid) error = nil")
	}
	if err := p.EnqueueBase64(EncodeChunk([]float32{0.5, 0.5})); err != nil {
		t.Fatalf("EnqueueBase64() error = %v", err)
	}
	select {
	case got := <-sink.begin:
		if math.Abs(float64(got)-0.5) > 1.0/32768 {
			t.Fatalf("first sample = %v, want ~0.5", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("decoded buffer never played")
	}
	p.Close()
}
