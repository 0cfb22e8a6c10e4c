package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"doorcam/internal/camera"
	"doorcam/internal/inference"
	"doorcam/internal/pipeline"
	"doorcam/internal/stream"
)

// Config is the complete daemon configuration.
type Config struct {
	MediaDir  string          `yaml:"media_dir"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Capture   CaptureConfig   `yaml:"capture"`
	Event     EventConfig     `yaml:"event"`
	Detector  DetectorConfig  `yaml:"detector"`
	Retention RetentionConfig `yaml:"retention"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Redis     RedisConfig     `yaml:"redis"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Cameras   []camera.Camera `yaml:"cameras"`
}

// LogConfig selects the zap level and encoder.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// HTTPConfig configures the health and websocket listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables the listener
}

// CaptureConfig controls stream readers and buffers.
type CaptureConfig struct {
	FFmpeg   string        `yaml:"ffmpeg"`
	Width    int           `yaml:"width"`
	Height   int           `yaml:"height"`
	FPS      int           `yaml:"fps"`
	Horizon  time.Duration `yaml:"horizon"`  // how much history each ring keeps
	Cooldown time.Duration `yaml:"cooldown"` // wait before reconnecting
}

// EventConfig controls the event window.
type EventConfig struct {
	Pre         time.Duration `yaml:"pre"`
	Post        time.Duration `yaml:"post"`
	Dwell       time.Duration `yaml:"dwell"`
	ClipFPS     int           `yaml:"clip_fps"`
	StepTimeout time.Duration `yaml:"step_timeout"`
}

// DetectorConfig selects inference backends.
type DetectorConfig struct {
	Backend        string        `yaml:"backend"` // auto, gocv, remote, fallback
	MinArea        float64       `yaml:"min_area"`
	CascadePath    string        `yaml:"cascade_path"`
	RemoteEndpoint string        `yaml:"remote_endpoint"`
	RemoteTimeout  time.Duration `yaml:"remote_timeout"`
	ScaleWidth     int           `yaml:"scale_width"`
	Threshold      float64       `yaml:"threshold"`
	Alpha          float64       `yaml:"alpha"`
	MinPixels      int           `yaml:"min_pixels"`
	// MotionInterval and MotionCooldown drive local motion triggers.
	MotionInterval time.Duration `yaml:"motion_interval"`
	MotionCooldown time.Duration `yaml:"motion_cooldown"`
}

// RetentionConfig controls the media sweeper. Days <= 0 keeps everything.
type RetentionConfig struct {
	Days     int           `yaml:"days"`
	Interval time.Duration `yaml:"interval"`
}

// MQTTConfig configures the MQTT trigger source. Empty broker disables it.
type MQTTConfig struct {
	Broker   string   `yaml:"broker"`
	ClientID string   `yaml:"client_id"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Prefix   string   `yaml:"prefix"`
	QoS      byte     `yaml:"qos"`
	Events   []string `yaml:"events"`
	Topics   []string `yaml:"topics"`
}

// RedisConfig configures the Redis stream trigger source. Empty addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	Group    string `yaml:"group"`
}

// TelegramConfig configures event notifications. Empty token disables them.
type TelegramConfig struct {
	BotToken string        `yaml:"bot_token"`
	ChatID   string        `yaml:"chat_id"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	decay := inference.DefaultDecayConfig()
	ev := pipeline.DefaultConfig()

	return &Config{
		MediaDir: "./media",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Capture: CaptureConfig{
			FFmpeg:   "ffmpeg",
			Width:    640,
			Height:   480,
			FPS:      20,
			Horizon:  30 * time.Second,
			Cooldown: stream.DefaultCooldown,
		},
		Event: EventConfig{
			Pre:         ev.PreEvent,
			Post:        ev.PostEvent,
			Dwell:       ev.Dwell,
			ClipFPS:     ev.FPS,
			StepTimeout: ev.StepTimeout,
		},
		Detector: DetectorConfig{
			Backend:        inference.BackendAuto,
			MinArea:        500,
			RemoteTimeout:  5 * time.Second,
			ScaleWidth:     decay.ScaleWidth,
			Threshold:      decay.Threshold,
			Alpha:          decay.Alpha,
			MinPixels:      decay.MinPixels,
			MotionInterval: 200 * time.Millisecond,
			MotionCooldown: 30 * time.Second,
		},
		Retention: RetentionConfig{
			Days:     0,
			Interval: time.Hour,
		},
		MQTT: MQTTConfig{
			Prefix: "ring",
		},
		Redis: RedisConfig{
			Stream: "doorcam:triggers",
			Group:  "doorcam",
		},
		Telegram: TelegramConfig{
			Cooldown: 30 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (when
// path is non-empty) and DOORCAM_* environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.MediaDir, "DOORCAM_MEDIA_DIR")
	setString(&c.Log.Level, "DOORCAM_LOG_LEVEL")
	setString(&c.Log.Format, "DOORCAM_LOG_FORMAT")
	setString(&c.MQTT.Broker, "DOORCAM_MQTT_BROKER")
	setString(&c.Redis.Addr, "DOORCAM_REDIS_ADDR")
	setString(&c.HTTP.Addr, "DOORCAM_HTTP_ADDR")
	setString(&c.Capture.FFmpeg, "DOORCAM_FFMPEG")
	setString(&c.Detector.Backend, "DOORCAM_DETECTOR_BACKEND")
	setString(&c.Telegram.BotToken, "DOORCAM_TELEGRAM_TOKEN")
	setString(&c.Telegram.ChatID, "DOORCAM_TELEGRAM_CHAT_ID")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.MediaDir) == "" {
		errs = append(errs, errors.New("media_dir is required"))
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		errs = append(errs, fmt.Errorf("capture size %dx%d must be positive", c.Capture.Width, c.Capture.Height))
	}
	if c.Capture.FPS <= 0 {
		errs = append(errs, errors.New("capture.fps must be positive"))
	}
	if c.Event.Pre < 0 || c.Event.Post < 0 || c.Event.Dwell < 0 {
		errs = append(errs, errors.New("event pre, post and dwell must not be negative"))
	}
	if c.Event.Dwell < c.Event.Post {
		errs = append(errs, fmt.Errorf("event.dwell %s is shorter than event.post %s; post-event frames would not be buffered yet", c.Event.Dwell, c.Event.Post))
	}
	if c.Capture.Horizon < c.Event.Pre+c.Event.Post {
		errs = append(errs, fmt.Errorf("capture.horizon %s is shorter than the event window %s", c.Capture.Horizon, c.Event.Pre+c.Event.Post))
	}
	if c.Event.ClipFPS <= 0 {
		errs = append(errs, errors.New("event.clip_fps must be positive"))
	}

	switch strings.ToLower(c.Detector.Backend) {
	case "", inference.BackendAuto, inference.BackendNative, inference.BackendFallback:
	case inference.BackendRemote:
		if c.Detector.RemoteEndpoint == "" {
			errs = append(errs, errors.New("detector.remote_endpoint is required for the remote backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown detector backend %q", c.Detector.Backend))
	}

	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		errs = append(errs, errors.New("telegram.chat_id is required when a bot token is set"))
	}

	seen := make(map[string]bool, len(c.Cameras))
	for i, cam := range c.Cameras {
		if strings.TrimSpace(cam.ID) == "" {
			errs = append(errs, fmt.Errorf("cameras[%d]: id is required", i))
			continue
		}
		if seen[cam.ID] {
			errs = append(errs, fmt.Errorf("cameras[%d]: duplicate id %q", i, cam.ID))
		}
		seen[cam.ID] = true
	}

	return errors.Join(errs...)
}

// Pipeline returns the event window settings.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		PreEvent:    c.Event.Pre,
		PostEvent:   c.Event.Post,
		Dwell:       c.Event.Dwell,
		FPS:         c.Event.ClipFPS,
		StepTimeout: c.Event.StepTimeout,
	}
}

// Inference returns the detector factory settings.
func (c *Config) Inference() inference.Config {
	return inference.Config{
		Backend:        c.Detector.Backend,
		MinArea:        c.Detector.MinArea,
		CascadePath:    c.Detector.CascadePath,
		RemoteEndpoint: c.Detector.RemoteEndpoint,
		RemoteTimeout:  c.Detector.RemoteTimeout,
		Decay: inference.DecayConfig{
			ScaleWidth: c.Detector.ScaleWidth,
			Threshold:  c.Detector.Threshold,
			Alpha:      c.Detector.Alpha,
			MinPixels:  c.Detector.MinPixels,
		},
	}
}

// RetentionAge is the maximum media age, zero when retention is disabled.
func (c *Config) RetentionAge() time.Duration {
	if c.Retention.Days <= 0 {
		return 0
	}
	return time.Duration(c.Retention.Days) * 24 * time.Hour
}
