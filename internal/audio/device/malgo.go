package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/yegors/voxdesk/internal/audio"
	"github.com/yegors/voxdesk/pkg/logger"
)

// MalgoSource captures 32-bit float mono audio from the default input device
type MalgoSource struct {
	logger *logger.Logger

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	samples []float32
}

// NewMalgoSource creates a microphone source. The device is opened on Start.
func NewMalgoSource(log *logger.Logger) *MalgoSource {
	if log == nil {
		log = logger.NewNop()
	}
	return &MalgoSource{logger: log.Named("malgo")}
}

// Start opens the capture device and delivers samples to fn from the
// device callback
func (s *MalgoSource) Start(ctx context.Context, opts audio.CaptureOptions, fn func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		return errors.New("capture device already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	mctx, err := malgo.InitContext(nil, ctxConfig, func(message string) {
		s.logger.Debug("malgo", logger.String("message", message))
	})
	if err != nil {
		return fmt.Errorf("failed to init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(opts.Channels)
	deviceConfig.SampleRate = uint32(opts.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, frameCount uint32) {
			fn(s.decode(pInputSamples, int(frameCount)*opts.Channels))
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("failed to init microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("failed to start microphone: %w", err)
	}

	s.ctx = mctx
	s.device = device
	// miniaudio applies no echo cancellation, noise suppression or gain control
	s.logger.Info("Microphone opened",
		logger.Int("sample_rate", opts.SampleRate),
		logger.Int("channels", opts.Channels),
		logger.Bool("echo_cancellation", opts.EchoCancellation),
		logger.Bool("noise_suppression", opts.NoiseSuppression),
		logger.Bool("auto_gain_control", opts.AutoGainControl))
	return nil
}

// decode reinterprets little-endian float32 bytes. The returned slice is
// reused across callbacks.
func (s *MalgoSource) decode(raw []byte, n int) []float32 {
	if max := len(raw) / 4; n > max {
		n = max
	}
	if cap(s.samples) < n {
		s.samples = make([]float32, n)
	}
	out := s.samples[:n]
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

// Stop stops all capture and releases the device. Safe to call when stopped.
func (s *MalgoSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return nil
	}

	var errs []error
	if err := s.device.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop microphone: %w", err))
	}
	s.device.Uninit()
	if err := s.ctx.Uninit(); err != nil {
		errs = append(errs, fmt.Errorf("failed to release audio context: %w", err))
	}
	s.ctx.Free()

	s.device = nil
	s.ctx = nil
	s.logger.Info("Microphone released")
	return errors.Join(errs...)
}
