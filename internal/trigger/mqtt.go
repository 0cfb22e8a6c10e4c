package trigger

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"doorcam/internal/pipeline"
)

// MQTTConfig configures the MQTT trigger source.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Prefix is the first topic level, "ring" by default.
	Prefix string
	QoS    byte
	// Events lists the event types forwarded to the pipeline.
	Events []string
	// Topics overrides the per-camera subscriptions.
	Topics []string
	// RetryInterval spaces connect attempts while the broker is unreachable.
	RetryInterval time.Duration
}

// MQTTSource subscribes to camera event topics and forwards rising edges.
type MQTTSource struct {
	cfg    MQTTConfig
	client mqtt.Client
	sink   Sink
	events map[string]bool
	logger *zap.Logger
	now    func() time.Time
	topics []string
}

// NewMQTTSource prepares a source for the given cameras. Call Start to connect.
func NewMQTTSource(cfg MQTTConfig, cameraIDs []string, sink Sink, logger *zap.Logger) *MQTTSource {
	if cfg.Prefix == "" {
		cfg.Prefix = "ring"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "doorcam-" + uuid.NewString()[:8]
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &MQTTSource{
		cfg:    cfg,
		sink:   sink,
		events: eventSet(cfg.Events),
		logger: logger.With(zap.String("component", "mqtt_trigger")),
		now:    time.Now,
	}
	s.topics = s.subscriptions(cameraIDs)
	return s
}

// Topics returns the topic filters the source subscribes to.
func (s *MQTTSource) Topics() []string {
	return s.topics
}

func (s *MQTTSource) subscriptions(cameraIDs []string) []string {
	if len(s.cfg.Topics) > 0 {
		return s.cfg.Topics
	}

	var topics []string
	for _, id := range cameraIDs {
		for event := range s.events {
			topics = append(topics, fmt.Sprintf("%s/%s/%s", s.cfg.Prefix, id, event))
		}
	}
	return topics
}

// Start begins connecting to the broker in the background and returns
// without waiting. Connect attempts repeat until the broker answers, and
// subscriptions are (re)established on every connect.
func (s *MQTTSource) Start() error {
	if s.cfg.Broker == "" {
		return fmt.Errorf("mqtt broker not configured")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(s.cfg.RetryInterval)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.logger.Info("mqtt trigger source connected", zap.Strings("topics", s.topics))
		if err := s.subscribe(c); err != nil {
			s.logger.Error("failed to subscribe", zap.Error(err))
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("mqtt connection lost", zap.Error(err))
	})

	s.client = mqtt.NewClient(opts)
	s.client.Connect()

	s.logger.Info("connecting to mqtt broker", zap.String("broker", s.cfg.Broker))
	return nil
}

func (s *MQTTSource) subscribe(c mqtt.Client) error {
	if len(s.topics) == 0 {
		return nil
	}

	filters := make(map[string]byte, len(s.topics))
	for _, t := range s.topics {
		filters[t] = s.cfg.QoS
	}

	token := c.SubscribeMultiple(filters, func(_ mqtt.Client, msg mqtt.Message) {
		if err := s.HandleMessage(msg.Topic(), msg.Payload()); err != nil {
			s.logger.Warn("trigger rejected", zap.String("topic", msg.Topic()), zap.Error(err))
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", strings.Join(s.topics, ", "), err)
	}
	return nil
}

// HandleMessage turns one MQTT message into a trigger. Unrecognized topics,
// unlisted event types and inactive payloads are ignored without error.
func (s *MQTTSource) HandleMessage(topic string, payload []byte) error {
	t, ok := ParseTopic(s.cfg.Prefix, topic)
	if !ok {
		s.logger.Debug("ignoring topic", zap.String("topic", topic))
		return nil
	}
	if !s.events[strings.ToLower(t.EventType)] {
		return nil
	}
	if !IsActive(payload) {
		return nil
	}

	return s.sink.Handle(pipeline.Trigger{
		CameraID:  t.CameraID,
		EventType: strings.ToLower(t.EventType),
		Time:      s.now(),
		Payload:   payload,
		Source:    "mqtt",
	})
}

// Stop disconnects from the broker, abandoning any pending connect.
func (s *MQTTSource) Stop() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}
