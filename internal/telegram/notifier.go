package telegram

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"os"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"doorcam/internal/database"
)

// DefaultAPIBase is the Telegram Bot API root.
const DefaultAPIBase = "https://api.telegram.org"

// Config holds Telegram bot configuration
type Config struct {
	BotToken string
	ChatID   string
	// Cooldown is the minimum gap between two notifications for one camera.
	Cooldown time.Duration
	APIBase  string
	Timeout  time.Duration
}

// ValidateConfig validates the Telegram bot configuration
func ValidateConfig(cfg Config) error {
	if cfg.BotToken == "" {
		return fmt.Errorf("bot token is required")
	}
	if cfg.ChatID == "" {
		return fmt.Errorf("chat ID is required")
	}
	return nil
}

// apiResponse represents the response from Telegram API
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Notifier sends a Telegram message for every recorded event, with the face
// snapshot attached when there is one. It implements pipeline.EventHandler.
type Notifier struct {
	client *resty.Client
	token  string
	chatID string

	cooldown time.Duration
	mu       sync.Mutex
	last     map[string]time.Time
	now      func() time.Time

	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewNotifier creates a notifier.
func NewNotifier(cfg Config, logger *zap.Logger) (*Notifier, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Notifier{
		client:   resty.New().SetBaseURL(cfg.APIBase).SetTimeout(cfg.Timeout),
		token:    cfg.BotToken,
		chatID:   cfg.ChatID,
		cooldown: cfg.Cooldown,
		last:     make(map[string]time.Time),
		now:      time.Now,
		logger:   logger.With(zap.String("component", "telegram")),
	}, nil
}

// OnEvent sends the notification in the background so the publisher is
// never held up by the Telegram API.
func (n *Notifier) OnEvent(ev database.Event) {
	if !n.allow(ev.CameraID) {
		n.logger.Debug("notification suppressed by cooldown", zap.String("camera_id", ev.CameraID))
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := n.Notify(ctx, ev); err != nil {
			n.logger.Warn("failed to send notification",
				zap.String("camera_id", ev.CameraID),
				zap.Int64("event_id", ev.ID),
				zap.Error(err),
			)
		}
	}()
}

// Close waits for notifications in flight.
func (n *Notifier) Close() {
	n.wg.Wait()
}

func (n *Notifier) allow(cameraID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if last, ok := n.last[cameraID]; ok && now.Sub(last) < n.cooldown {
		return false
	}
	n.last[cameraID] = now
	return true
}

// Notify sends ev synchronously. A snapshot that cannot be read downgrades
// the notification to text.
func (n *Notifier) Notify(ctx context.Context, ev database.Event) error {
	caption := Caption(ev)

	if ev.SnapshotPath != nil {
		photo, err := os.ReadFile(*ev.SnapshotPath)
		if err == nil {
			return n.sendPhoto(ctx, photo, caption)
		}
		n.logger.Warn("snapshot unreadable, sending text only", zap.String("path", *ev.SnapshotPath), zap.Error(err))
	}

	return n.sendMessage(ctx, caption)
}

// Caption formats an event as Telegram HTML.
func Caption(ev database.Event) string {
	icon := "🚶"
	if ev.EventType == "ding" {
		icon = "🔔"
	}

	msg := fmt.Sprintf("%s <b>%s</b> on <b>%s</b>\n🕐 %s",
		icon,
		html.EscapeString(ev.EventType),
		html.EscapeString(ev.CameraID),
		ev.Timestamp.Local().Format("2006-01-02 15:04:05"),
	)
	if ev.FaceDetected {
		msg += "\n👤 Face detected"
	}
	if ev.ClipPath == nil {
		msg += "\n⚠️ No clip recorded"
	}
	return msg
}

func (n *Notifier) sendMessage(ctx context.Context, text string) error {
	var result apiResponse
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"chat_id":    n.chatID,
			"text":       text,
			"parse_mode": "HTML",
		}).
		SetResult(&result).
		SetError(&result).
		Post(n.method("sendMessage"))
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return checkResponse(resp, result)
}

func (n *Notifier) sendPhoto(ctx context.Context, photo []byte, caption string) error {
	var result apiResponse
	resp, err := n.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id":    n.chatID,
			"caption":    caption,
			"parse_mode": "HTML",
		}).
		SetFileReader("photo", "snapshot.jpg", bytes.NewReader(photo)).
		SetResult(&result).
		SetError(&result).
		Post(n.method("sendPhoto"))
	if err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	return checkResponse(resp, result)
}

func (n *Notifier) method(name string) string {
	return fmt.Sprintf("/bot%s/%s", n.token, name)
}

func checkResponse(resp *resty.Response, result apiResponse) error {
	if resp.IsError() || !result.OK {
		return fmt.Errorf("telegram API error %d: %s", result.ErrorCode, result.Description)
	}
	return nil
}
