package trigger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"doorcam/internal/pipeline"
)

type recordingSink struct {
	mu       sync.Mutex
	triggers []pipeline.Trigger
	err      error
}

func (s *recordingSink) Handle(tr pipeline.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.triggers = append(s.triggers, tr)
	return nil
}

func (s *recordingSink) all() []pipeline.Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pipeline.Trigger(nil), s.triggers...)
}

func TestIsActive(t *testing.T) {
	tests := []struct {
		payload string
		want    bool
	}{
		{"", false},
		{"idle", false},
		{" OFF ", false},
		{"false", false},
		{"0", false},
		{"clear", false},
		{"ON", true},
		{"ding", true},
		{`{"state":"on"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			assert.Equal(t, tt.want, IsActive([]byte(tt.payload)))
		})
	}
}

func TestParseTopic(t *testing.T) {
	tests := []struct {
		name  string
		topic string
		want  Topic
		ok    bool
	}{
		{"short form", "ring/front/motion", Topic{CameraID: "front", EventType: "motion"}, true},
		{"device form", "ring/home/camera/abc123/ding", Topic{Location: "home", CameraID: "abc123", EventType: "ding"}, true},
		{"device form with state", "ring/home/camera/abc123/motion/state", Topic{Location: "home", CameraID: "abc123", EventType: "motion"}, true},
		{"device attributes", "ring/home/camera/abc123/motion/attributes", Topic{}, false},
		{"wrong prefix", "zigbee/front/motion", Topic{}, false},
		{"too short", "ring/front", Topic{}, false},
		{"too long", "ring/front/motion/extra", Topic{}, false},
		{"empty camera", "ring//motion", Topic{}, false},
		{"empty event", "ring/front/", Topic{}, false},
		{"device form empty camera", "ring/home/camera//ding", Topic{}, false},
		{"device form empty event", "ring/home/camera/abc123//state", Topic{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTopic("ring", tt.topic)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMQTTSource_Topics(t *testing.T) {
	s := NewMQTTSource(MQTTConfig{Events: []string{"ding"}}, []string{"front", "back"}, &recordingSink{}, zap.NewNop())
	assert.ElementsMatch(t, []string{"ring/front/ding", "ring/back/ding"}, s.Topics())

	s = NewMQTTSource(MQTTConfig{Topics: []string{"ring/#"}}, []string{"front"}, &recordingSink{}, zap.NewNop())
	assert.Equal(t, []string{"ring/#"}, s.Topics())
}

func TestMQTTSource_HandleMessage(t *testing.T) {
	sink := &recordingSink{}
	s := NewMQTTSource(MQTTConfig{}, []string{"front"}, sink, zap.NewNop())
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.HandleMessage("ring/front/motion", []byte("ON")))
	require.NoError(t, s.HandleMessage("ring/front/motion", []byte("OFF")))
	require.NoError(t, s.HandleMessage("ring/front/battery", []byte("80")))
	require.NoError(t, s.HandleMessage("garbage", []byte("ON")))
	require.NoError(t, s.HandleMessage("ring/home/camera/front/Ding/state", []byte("ding")))

	got := sink.all()
	require.Len(t, got, 2)
	assert.Equal(t, pipeline.Trigger{
		CameraID:  "front",
		EventType: "motion",
		Time:      fixed,
		Payload:   []byte("ON"),
		Source:    "mqtt",
	}, got[0])
	assert.Equal(t, "ding", got[1].EventType)
}

func TestMQTTSource_HandleMessagePropagatesSinkError(t *testing.T) {
	sink := &recordingSink{err: pipeline.ErrUnknownCamera}
	s := NewMQTTSource(MQTTConfig{}, nil, sink, zap.NewNop())

	err := s.HandleMessage("ring/nowhere/motion", []byte("ON"))
	assert.True(t, errors.Is(err, pipeline.ErrUnknownCamera))
}

func TestMQTTSource_StartRequiresBroker(t *testing.T) {
	s := NewMQTTSource(MQTTConfig{}, nil, &recordingSink{}, zap.NewNop())
	assert.Error(t, s.Start())
	s.Stop()
}

func TestMQTTSource_StartDoesNotWaitForBroker(t *testing.T) {
	s := NewMQTTSource(MQTTConfig{Broker: "tcp://127.0.0.1:1", RetryInterval: 50 * time.Millisecond}, []string{"front"}, &recordingSink{}, zap.NewNop())

	start := time.Now()
	require.NoError(t, s.Start())
	assert.Less(t, time.Since(start), time.Second)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not abandon the pending connect")
	}
}
