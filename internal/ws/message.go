package ws

import (
	"time"

	"doorcam/internal/database"
)

// AllCameras subscribes a client to every camera's events.
const AllCameras = "*"

// EventMessage is the broadcast form of a recorded event.
type EventMessage struct {
	Type         string    `json:"type"` // "event"
	ID           int64     `json:"id"`
	CameraID     string    `json:"camera_id"`
	EventType    string    `json:"event_type"`
	Timestamp    time.Time `json:"timestamp"`
	ClipPath     *string   `json:"clip_path"`
	SnapshotPath *string   `json:"snapshot_path"`
	FaceDetected bool      `json:"face_detected"`
	Duration     int       `json:"duration"`
}

// NewEventMessage converts a stored event.
func NewEventMessage(ev database.Event) *EventMessage {
	return &EventMessage{
		Type:         "event",
		ID:           ev.ID,
		CameraID:     ev.CameraID,
		EventType:    ev.EventType,
		Timestamp:    ev.Timestamp.UTC(),
		ClipPath:     ev.ClipPath,
		SnapshotPath: ev.SnapshotPath,
		FaceDetected: ev.FaceDetected,
		Duration:     ev.Duration,
	}
}
