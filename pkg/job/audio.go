package job

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

const (
	// opusRate is the clock rate of every Opus track in LiveKit.
	opusRate = 48000
	// opusFrame is the packet duration published to the room.
	opusFrame = 20 * time.Millisecond
	// samplesPerPacket is the mono sample count of one published packet.
	samplesPerPacket = opusRate / 1000 * int(opusFrame/time.Millisecond)
	// maxOpusPacket is 120 ms at 48 kHz, the longest Opus packet.
	maxOpusPacket = 5760
)

// micDecoder turns the Opus RTP packets of one remote track into 10 ms
// 48 kHz mono frames.
type micDecoder struct {
	dec    *opus.Decoder
	framer *rtc.Framer
	pcm    []int16
}

func newMicDecoder() (*micDecoder, error) {
	dec, err := opus.NewDecoder(opusRate, 1)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	return &micDecoder{
		dec:    dec,
		framer: rtc.NewFramer(opusRate, 1),
		pcm:    make([]int16, maxOpusPacket),
	}, nil
}

// decode returns the whole frames completed by pkt.
func (m *micDecoder) decode(pkt *rtp.Packet) ([]rtc.AudioFrame, error) {
	if len(pkt.Payload) == 0 {
		return nil, nil
	}
	n, err := m.dec.Decode(pkt.Payload, m.pcm)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return m.framer.Write(rtc.FromSamples(m.pcm[:n], opusRate, 1).Data), nil
}

// speakerProvider feeds the agent's published track. It drains the speaker
// channel, resamples to 48 kHz and encodes 20 ms Opus packets. Silence is
// sent while nothing is queued so the track keeps a steady clock.
type speakerProvider struct {
	frames <-chan rtc.AudioFrame
	enc    *opus.Encoder
	bound  atomic.Bool

	// mu guards pending so drain sees frames either queued or pending.
	mu      sync.Mutex
	pending []int16
	buf     []byte
	silence []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newSpeakerProvider(frames <-chan rtc.AudioFrame) (*speakerProvider, error) {
	enc, err := opus.NewEncoder(opusRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	p := &speakerProvider{
		frames: frames,
		enc:    enc,
		buf:    make([]byte, 4000),
		done:   make(chan struct{}),
	}
	n, err := enc.Encode(make([]int16, samplesPerPacket), p.buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode silence: %w", err)
	}
	p.silence = append([]byte(nil), p.buf[:n]...)
	return p, nil
}

// NextSample returns the next 20 ms packet.
func (p *speakerProvider) NextSample(ctx context.Context) (media.Sample, error) {
	select {
	case <-p.done:
		return media.Sample{}, io.EOF
	case <-ctx.Done():
		return media.Sample{}, ctx.Err()
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.fill()
	if len(p.pending) == 0 {
		return media.Sample{Data: p.silence, Duration: opusFrame}, nil
	}
	if len(p.pending) < samplesPerPacket {
		p.pending = append(p.pending, make([]int16, samplesPerPacket-len(p.pending))...)
	}

	n, err := p.enc.Encode(p.pending[:samplesPerPacket], p.buf)
	p.pending = p.pending[samplesPerPacket:]
	if err != nil {
		return media.Sample{}, fmt.Errorf("opus encode: %w", err)
	}
	data := make([]byte, n)
	copy(data, p.buf[:n])
	return media.Sample{Data: data, Duration: opusFrame}, nil
}

// fill takes queued frames until a packet's worth is pending or the queue is
// empty.
func (p *speakerProvider) fill() {
	for len(p.pending) < samplesPerPacket {
		select {
		case f, ok := <-p.frames:
			if !ok {
				return
			}
			if f.SampleRate != opusRate || f.NumChannels != 1 {
				f = rtc.Resample(f, opusRate)
			}
			p.pending = append(p.pending, f.Samples()...)
		default:
			return
		}
	}
}

func (p *speakerProvider) OnBind() error {
	p.bound.Store(true)
	return nil
}

func (p *speakerProvider) OnUnbind() error {
	p.bound.Store(false)
	return nil
}

// idle reports whether every queued frame has been encoded.
func (p *speakerProvider) idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames) == 0 && len(p.pending) == 0
}

// drain waits until the track has taken every queued frame. It returns at
// once when the track is not bound, since nothing would read the queue.
func (p *speakerProvider) drain(ctx context.Context) error {
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()
	for p.bound.Load() && !p.idle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// Close ends the sample stream.
func (p *speakerProvider) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
