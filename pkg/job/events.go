package job

import (
	"time"

	"github.com/livekit/protocol/livekit"
)

// EventType names a room event.
type EventType string

const (
	EventParticipantConnected    EventType = "participant_connected"
	EventParticipantDisconnected EventType = "participant_disconnected"
	EventTrackSubscribed         EventType = "track_subscribed"
	EventTrackUnsubscribed       EventType = "track_unsubscribed"
	EventDisconnected            EventType = "disconnected"
)

// Event is something that happened in the room.
type Event struct {
	Type        EventType
	Timestamp   time.Time
	Participant *livekit.ParticipantInfo
	Track       *livekit.TrackInfo
}

// NewEvent creates an event stamped with the current time.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

// WithParticipant sets the participant the event is about.
func (e *Event) WithParticipant(participant *livekit.ParticipantInfo) *Event {
	e.Participant = participant
	return e
}

// WithTrack sets the track the event is about.
func (e *Event) WithTrack(track *livekit.TrackInfo) *Event {
	e.Track = track
	return e
}
