package job

import (
	"io"
	"log/slog"
	"sync"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
	"github.com/pion/webrtc/v3"

	"github.com/chriscow/livekit-voice-agent/internal/metrics"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

// Room follows the remote side of a LiveKit room: who is present, and the
// audio of the linked participant. The linked participant is the first one
// whose microphone is subscribed; it changes when that participant leaves.
type Room struct {
	events  chan *Event
	mic     chan rtc.AudioFrame
	lost    chan struct{}
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu           sync.RWMutex
	closed       bool
	leaving      bool
	linked       string
	participants map[string]*livekit.ParticipantInfo
}

func newRoom(cfg Config) *Room {
	return &Room{
		events:       make(chan *Event, cfg.EventBuffer),
		mic:          make(chan rtc.AudioFrame, cfg.MicBuffer),
		lost:         make(chan struct{}),
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		participants: make(map[string]*livekit.ParticipantInfo),
	}
}

// Events delivers room events until the room is closed. Events are dropped
// when nobody reads them.
func (r *Room) Events() <-chan *Event {
	return r.events
}

// Participants returns a snapshot of the remote participants by identity.
func (r *Room) Participants() map[string]*livekit.ParticipantInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*livekit.ParticipantInfo, len(r.participants))
	for k, v := range r.participants {
		out[k] = v
	}
	return out
}

// Linked returns the identity whose audio is forwarded, if any.
func (r *Room) Linked() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.linked
}

func (r *Room) callback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			r.participantJoined(rp.Identity(), rp.SID())
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			r.participantLeft(rp.Identity(), rp.SID())
		},
		OnDisconnected: r.disconnected,
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed:   r.onTrackSubscribed,
			OnTrackUnsubscribed: r.onTrackUnsubscribed,
		},
	}
}

func (r *Room) participantJoined(identity, sid string) {
	info := &livekit.ParticipantInfo{
		Sid:      sid,
		Identity: identity,
		State:    livekit.ParticipantInfo_ACTIVE,
	}
	r.mu.Lock()
	r.participants[identity] = info
	r.mu.Unlock()

	r.sendEvent(NewEvent(EventParticipantConnected).WithParticipant(info))
	r.logger.Info("participant connected", slog.String("identity", identity), slog.String("sid", sid))
}

func (r *Room) participantLeft(identity, sid string) {
	r.mu.Lock()
	delete(r.participants, identity)
	if r.linked == identity {
		r.linked = ""
	}
	r.mu.Unlock()

	info := &livekit.ParticipantInfo{
		Sid:      sid,
		Identity: identity,
		State:    livekit.ParticipantInfo_DISCONNECTED,
	}
	r.sendEvent(NewEvent(EventParticipantDisconnected).WithParticipant(info))
	r.logger.Info("participant disconnected", slog.String("identity", identity), slog.String("sid", sid))
}

func (r *Room) onTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	r.sendEvent(NewEvent(EventTrackSubscribed).
		WithParticipant(&livekit.ParticipantInfo{Sid: rp.SID(), Identity: rp.Identity()}).
		WithTrack(&livekit.TrackInfo{Sid: pub.SID(), Name: pub.Name(), Type: livekit.TrackType_AUDIO}))
	r.logger.Info("audio track subscribed",
		slog.String("participant", rp.Identity()),
		slog.String("track_sid", pub.SID()))

	go r.readTrack(track, rp.Identity())
}

func (r *Room) onTrackUnsubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	r.sendEvent(NewEvent(EventTrackUnsubscribed).
		WithParticipant(&livekit.ParticipantInfo{Sid: rp.SID(), Identity: rp.Identity()}).
		WithTrack(&livekit.TrackInfo{Sid: pub.SID(), Name: pub.Name()}))
}

// readTrack decodes one remote track until it ends.
func (r *Room) readTrack(track *webrtc.TrackRemote, identity string) {
	dec, err := newMicDecoder()
	if err != nil {
		r.logger.Error("cannot decode track", slog.String("participant", identity), slog.Any("error", err))
		return
	}
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if err != io.EOF {
				r.logger.Debug("track read ended", slog.String("participant", identity), slog.Any("error", err))
			}
			return
		}
		frames, err := dec.decode(pkt)
		if err != nil {
			r.logger.Debug("opus decode failed", slog.String("participant", identity), slog.Any("error", err))
			continue
		}
		for _, f := range frames {
			if !r.pushMic(identity, f) {
				return
			}
		}
	}
}

// pushMic forwards f when identity is the linked participant, linking it if
// nobody is. It reports false once the room is closed.
func (r *Room) pushMic(identity string, f rtc.AudioFrame) bool {
	r.mu.RLock()
	closed, linked := r.closed, r.linked
	r.mu.RUnlock()
	if closed {
		return false
	}
	if linked == "" {
		r.mu.Lock()
		if r.linked == "" {
			r.linked = identity
			r.logger.Info("linked participant", slog.String("identity", identity))
		}
		linked = r.linked
		r.mu.Unlock()
	}
	if linked != identity {
		return true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.mic <- f:
	default:
		r.metrics.RecordDroppedFrame("in")
	}
	return true
}

// sendEvent delivers event unless the room is closed or nobody is reading.
func (r *Room) sendEvent(event *Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.events <- event:
	default:
		r.logger.Warn("event channel full, dropping event", slog.String("event_type", string(event.Type)))
	}
}

// disconnected handles the end of the signal connection. Unless the agent is
// leaving on its own, the connection counts as lost.
func (r *Room) disconnected() {
	r.mu.Lock()
	unexpected := !r.leaving && !r.closed
	if unexpected {
		r.leaving = true
		close(r.lost)
	}
	r.mu.Unlock()

	if unexpected {
		r.logger.Warn("disconnected from room")
	}
	r.sendEvent(NewEvent(EventDisconnected))
}

// leave marks the disconnect that follows as requested.
func (r *Room) leave() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaving = true
}

// Lost is closed when the room connection drops without the agent leaving.
func (r *Room) Lost() <-chan struct{} {
	return r.lost
}

// close ends the mic and event streams. Later calls do nothing.
func (r *Room) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.mic)
	close(r.events)
}
