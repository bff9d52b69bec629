package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server   ServerConfig   `toml:"server"`   // HTTP control surface settings
	Logging  LoggingConfig  `toml:"logging"`  // Application logging settings
	OpenAI   OpenAIConfig   `toml:"openai"`   // Realtime backend endpoint and credentials
	Realtime RealtimeConfig `toml:"realtime"` // Session, turn detection and reconnect settings
	Audio    AudioConfig    `toml:"audio"`    // Microphone capture and speaker playback settings
	Storage  StorageConfig  `toml:"storage"`  // Task list and calendar persistence settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // HTTP port for the control surface
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, required for the event stream)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// OpenAIConfig contains the realtime backend endpoint settings
type OpenAIConfig struct {
	// APIKey authenticates the websocket handshake. OPENAI_API_KEY overrides it.
	APIKey string `toml:"api_key"`

	// BaseURL is the base endpoint for OpenAI API requests, for example:
	// - "https://api.openai.com" (default)
	// - "https://your-proxy.example.com/openai"
	// OPENAI_API_BASE overrides it.
	BaseURL string `toml:"base_url"`

	// RealtimeWebsocketPath is the path used for building the websocket URL.
	// The scheme of BaseURL is converted (http->ws, https->wss) and ?model= is appended.
	// Default: /v1/realtime
	RealtimeWebsocketPath string `toml:"realtime_websocket_path"`
}

// RealtimeConfig contains realtime session and connection lifecycle settings
type RealtimeConfig struct {
	// Session settings
	Model             string   `toml:"model"`               // Realtime model to use
	Voice             string   `toml:"voice"`               // Voice for audio responses
	Instructions      string   `toml:"instructions"`        // Inline system instructions
	InstructionsPath  string   `toml:"instructions_path"`   // File with system instructions (overrides instructions)
	Temperature       *float64 `toml:"temperature"`         // Response randomness (default 0.8)
	MaxResponseTokens int      `toml:"max_response_tokens"` // Maximum tokens in response (0 = unlimited)

	// Audio formats
	InputAudioFormat  string `toml:"input_audio_format"`  // Input audio format (e.g., "pcm16")
	OutputAudioFormat string `toml:"output_audio_format"` // Output audio format (e.g., "pcm16")

	// Turn detection
	TurnDetectionType  string  `toml:"turn_detection_type"` // "server_vad" or "none" (manual commit)
	VADThreshold       float64 `toml:"vad_threshold"`       // Voice activity detection threshold
	PrefixPaddingMs    int     `toml:"prefix_padding_ms"`   // Audio kept before detected speech
	SilenceDurationMs  int     `toml:"silence_duration_ms"` // Silence duration for turn detection
	TranscriptionModel string  `toml:"transcription_model"` // Model transcribing the user's audio (empty = disabled)

	// Connection lifecycle
	ConnectTimeoutSecs        int   `toml:"connect_timeout_seconds"`      // Handshake timeout
	KeepAliveIntervalSecs     int   `toml:"keepalive_interval_seconds"`   // Advisory keep-alive period
	ReconnectInitialDelayMs   int   `toml:"reconnect_initial_delay_ms"`   // First retry delay, doubled per attempt
	ReconnectMaxDelayMs       int   `toml:"reconnect_max_delay_ms"`       // Retry delay cap
	ReconnectMaxAttempts      int   `toml:"reconnect_max_attempts"`       // Retries before giving up
	RespondAfterFunctionCalls *bool `toml:"respond_after_function_calls"` // Request a follow-up response after each function result (default true)
}

// AudioConfig contains local audio device settings
type AudioConfig struct {
	Enabled          bool   `toml:"enabled"`            // Open microphone and speaker devices
	SampleRate       int    `toml:"sample_rate"`        // Capture and playback rate in Hz
	ChunkSamples     int    `toml:"chunk_samples"`      // Samples per uploaded chunk
	CaptureStrategy  string `toml:"capture_strategy"`   // "auto", "worker" or "inline"
	EchoCancellation *bool  `toml:"echo_cancellation"`  // Request echo cancellation from the capture device
	NoiseSuppression *bool  `toml:"noise_suppression"`  // Request noise suppression from the capture device
	AutoGainControl  *bool  `toml:"auto_gain_control"`  // Request automatic gain control from the capture device
	PlaybackBufferMs int    `toml:"playback_buffer_ms"` // Speaker buffer size
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	Backend       string   `toml:"backend"`        // "memory", "sqlite" or "redis"
	SQLitePath    string   `toml:"sqlite_path"`    // Database file for the sqlite backend
	RedisAddr     string   `toml:"redis_addr"`     // host:port for the redis backend
	RedisPassword string   `toml:"redis_password"` // Redis password (optional)
	RedisDB       int      `toml:"redis_db"`       // Redis database number
	RedisPrefix   string   `toml:"redis_prefix"`   // Key prefix for every redis key
	DefaultList   string   `toml:"default_list"`   // Task list that add_tasks writes to initially
	SeedLists     []string `toml:"seed_lists"`     // Lists created at startup when missing
}

// Default values applied by Validate
const (
	DefaultModel        = "gpt-4o-realtime-preview"
	DefaultVoice        = "alloy"
	DefaultBaseURL      = "https://api.openai.com"
	DefaultRealtimePath = "/v1/realtime"
	DefaultList         = "Today"
)

// DefaultInstructions is used when neither instructions nor instructions_path is set
const DefaultInstructions = `You are a helpful voice assistant that manages the user's tasks and calendar.
Today is {{.Weekday}} {{.Date}}, the time is {{.Time}}.
New tasks go to the "{{.CurrentList}}" list unless the user names another one.
Task lists:
{{.Lists}}
Keep spoken answers short.`

// Load reads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			// File exists, try to load it
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// applyEnv loads .env (when present) and applies environment overrides
func (c *Config) applyEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.OpenAI.APIKey = key
	}
	if base := os.Getenv("OPENAI_API_BASE"); base != "" {
		c.OpenAI.BaseURL = base
	}
	return nil
}

// Validate fills in defaults and checks the configuration for invalid values
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.ReadTimeoutSecs < 0 || c.Server.WriteTimeoutSecs < 0 || c.Server.IdleTimeoutSecs < 0 {
		return fmt.Errorf("server timeouts must be >= 0")
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	// OpenAI endpoint defaults
	c.OpenAI.APIKey = strings.TrimSpace(c.OpenAI.APIKey)
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = DefaultBaseURL
	}
	if c.OpenAI.RealtimeWebsocketPath == "" {
		c.OpenAI.RealtimeWebsocketPath = DefaultRealtimePath
	}

	if err := c.validateRealtime(); err != nil {
		return err
	}
	if err := c.validateAudio(); err != nil {
		return err
	}
	return c.validateStorage()
}

func (c *Config) validateRealtime() error {
	r := &c.Realtime
	if r.Model == "" {
		r.Model = DefaultModel
	}
	if r.Voice == "" {
		r.Voice = DefaultVoice
	}
	if r.Instructions == "" && r.InstructionsPath == "" {
		r.Instructions = DefaultInstructions
	}
	if r.InputAudioFormat == "" {
		r.InputAudioFormat = "pcm16"
	}
	if r.OutputAudioFormat == "" {
		r.OutputAudioFormat = "pcm16"
	}
	if r.Temperature == nil {
		r.Temperature = floatPtr(0.8)
	}
	if *r.Temperature < 0 || *r.Temperature > 2 {
		return fmt.Errorf("invalid temperature: %v (must be between 0 and 2)", *r.Temperature)
	}
	if r.MaxResponseTokens < 0 {
		return fmt.Errorf("invalid max_response_tokens: %d (must be >= 0)", r.MaxResponseTokens)
	}

	switch r.TurnDetectionType {
	case "":
		r.TurnDetectionType = "server_vad"
	case "server_vad", "none":
	default:
		return fmt.Errorf("invalid turn_detection_type: %s (must be 'server_vad' or 'none')", r.TurnDetectionType)
	}
	if r.VADThreshold == 0 {
		r.VADThreshold = 0.5
	}
	if r.VADThreshold < 0 || r.VADThreshold > 1 {
		return fmt.Errorf("invalid vad_threshold: %v (must be between 0 and 1)", r.VADThreshold)
	}
	if r.PrefixPaddingMs == 0 {
		r.PrefixPaddingMs = 300
	}
	if r.SilenceDurationMs == 0 {
		r.SilenceDurationMs = 500
	}

	if r.ConnectTimeoutSecs == 0 {
		r.ConnectTimeoutSecs = 15
	}
	if r.KeepAliveIntervalSecs == 0 {
		r.KeepAliveIntervalSecs = 30
	}
	if r.ReconnectInitialDelayMs == 0 {
		r.ReconnectInitialDelayMs = 1000
	}
	if r.ReconnectMaxDelayMs == 0 {
		r.ReconnectMaxDelayMs = 30000
	}
	if r.ReconnectMaxAttempts == 0 {
		r.ReconnectMaxAttempts = 5
	}
	if r.ConnectTimeoutSecs < 0 || r.KeepAliveIntervalSecs < 0 {
		return fmt.Errorf("connect_timeout_seconds and keepalive_interval_seconds must be positive")
	}
	if r.ReconnectInitialDelayMs < 0 || r.ReconnectMaxDelayMs < r.ReconnectInitialDelayMs {
		return fmt.Errorf("invalid reconnect delays: initial %dms, max %dms", r.ReconnectInitialDelayMs, r.ReconnectMaxDelayMs)
	}
	if r.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("invalid reconnect_max_attempts: %d (must be >= 0)", r.ReconnectMaxAttempts)
	}
	if r.RespondAfterFunctionCalls == nil {
		r.RespondAfterFunctionCalls = boolPtr(true)
	}
	return nil
}

func (c *Config) validateAudio() error {
	a := &c.Audio
	if a.SampleRate == 0 {
		a.SampleRate = 24000
	}
	if a.SampleRate < 0 {
		return fmt.Errorf("invalid sample_rate: %d (must be positive)", a.SampleRate)
	}
	if a.ChunkSamples == 0 {
		a.ChunkSamples = 2048
	}
	if a.ChunkSamples < 0 {
		return fmt.Errorf("invalid chunk_samples: %d (must be positive)", a.ChunkSamples)
	}

	switch a.CaptureStrategy {
	case "":
		a.CaptureStrategy = "auto"
	case "auto", "worker", "inline":
	default:
		return fmt.Errorf("invalid capture_strategy: %s (must be 'auto', 'worker' or 'inline')", a.CaptureStrategy)
	}

	for _, b := range []**bool{&a.EchoCancellation, &a.NoiseSuppression, &a.AutoGainControl} {
		if *b == nil {
			*b = boolPtr(true)
		}
	}
	if a.PlaybackBufferMs == 0 {
		a.PlaybackBufferMs = 100
	}
	if a.PlaybackBufferMs < 0 {
		return fmt.Errorf("invalid playback_buffer_ms: %d (must be positive)", a.PlaybackBufferMs)
	}
	return nil
}

func (c *Config) validateStorage() error {
	s := &c.Storage
	switch s.Backend {
	case "":
		s.Backend = "memory"
	case "memory":
	case "sqlite":
		if s.SQLitePath == "" {
			s.SQLitePath = "data/voxdesk.db"
		}
	case "redis":
		if s.RedisAddr == "" {
			s.RedisAddr = "localhost:6379"
		}
		if s.RedisDB < 0 {
			return fmt.Errorf("invalid redis_db: %d", s.RedisDB)
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be 'memory', 'sqlite' or 'redis')", s.Backend)
	}
	if s.RedisPrefix == "" {
		s.RedisPrefix = "voxdesk:"
	}

	s.DefaultList = strings.TrimSpace(s.DefaultList)
	if s.DefaultList == "" {
		s.DefaultList = DefaultList
	}
	if len(s.SeedLists) == 0 {
		s.SeedLists = []string{s.DefaultList}
	}
	return nil
}

// ConnectTimeout returns the handshake timeout as a duration
func (r RealtimeConfig) ConnectTimeout() time.Duration {
	return time.Duration(r.ConnectTimeoutSecs) * time.Second
}

// KeepAliveInterval returns the keep-alive period as a duration
func (r RealtimeConfig) KeepAliveInterval() time.Duration {
	return time.Duration(r.KeepAliveIntervalSecs) * time.Second
}

// ManualTurns reports whether the client commits the input buffer itself
func (r RealtimeConfig) ManualTurns() bool {
	return r.TurnDetectionType == "none"
}

// RespondAfterCalls reports whether a follow-up response is requested after function results
func (r RealtimeConfig) RespondAfterCalls() bool {
	return r.RespondAfterFunctionCalls == nil || *r.RespondAfterFunctionCalls
}

func boolPtr(v bool) *bool { return &v }

func floatPtr(v float64) *float64 { return &v }
