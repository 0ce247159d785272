package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const (
	opusPayloadType = 111
	vp8PayloadType  = 96

	audioFrame = 20 * time.Millisecond
	videoFrame = 33 * time.Millisecond
)

// opusSilence is a single Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticProvider is a headless capture device. Its tracks emit RTP
// packets of placeholder payload while enabled.
type SyntheticProvider struct {
	HasMicrophone bool
	HasCamera     bool
	StreamID      string
}

// NewSyntheticProvider returns a provider with both devices present.
func NewSyntheticProvider() *SyntheticProvider {
	return &SyntheticProvider{HasMicrophone: true, HasCamera: true, StreamID: "local"}
}

// GetUserMedia creates one track per requested kind.
func (p *SyntheticProvider) GetUserMedia(ctx context.Context, constraints Constraints) ([]Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AccessError{Reason: Other, Err: err}
	}
	if constraints.Audio && !p.HasMicrophone {
		return nil, &AccessError{Reason: NoDevice, Err: errors.New("no microphone")}
	}
	if constraints.Video.Enabled && !p.HasCamera {
		return nil, &AccessError{Reason: NoDevice, Err: errors.New("no camera")}
	}

	var tracks []Track
	if constraints.Audio {
		t, err := newSyntheticTrack(Audio, p.StreamID, webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		}, opusPayloadType, audioFrame, 960)
		if err != nil {
			return nil, &AccessError{Reason: Other, Err: err}
		}
		tracks = append(tracks, t)
	}
	if constraints.Video.Enabled {
		t, err := newSyntheticTrack(Video, p.StreamID, webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}, vp8PayloadType, videoFrame, 3000)
		if err != nil {
			stopAll(tracks)
			return nil, &AccessError{Reason: Other, Err: err}
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// SyntheticTrack is a Track backed by a pion TrackLocalStaticRTP.
type SyntheticTrack struct {
	kind    Kind
	local   *webrtc.TrackLocalStaticRTP
	enabled atomic.Bool
	stopped atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newSyntheticTrack(kind Kind, streamID string, codec webrtc.RTPCodecCapability, pt uint8, frame time.Duration, tsStep uint32) (*SyntheticTrack, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(codec, fmt.Sprintf("%s-%s", kind, shortuuid.New()), streamID)
	if err != nil {
		return nil, fmt.Errorf("new %s track: %w", kind, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &SyntheticTrack{
		kind:   kind,
		local:  local,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.enabled.Store(true)
	go t.pump(ctx, pt, frame, tsStep)
	return t, nil
}

func (t *SyntheticTrack) pump(ctx context.Context, pt uint8, frame time.Duration, tsStep uint32) {
	defer close(t.done)

	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	payload := opusSilence
	if t.kind == Video {
		// VP8 payload descriptor (start of partition) followed by filler.
		payload = append([]byte{0x10}, make([]byte, 64)...)
	}
	seq := uint16(rand.Uint32())
	ts := rand.Uint32()
	ssrc := rand.Uint32()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		seq++
		ts += tsStep
		if !t.enabled.Load() {
			continue
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         t.kind == Video,
				PayloadType:    pt,
				SequenceNumber: seq,
				Timestamp:      ts,
				SSRC:           ssrc,
			},
			Payload: payload,
		}
		if err := t.local.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			slog.Debug("writing synthetic rtp", "kind", t.kind, "err", err)
		}
	}
}

// ID returns the track id.
func (t *SyntheticTrack) ID() string { return t.local.ID() }

// Kind returns the media kind.
func (t *SyntheticTrack) Kind() Kind { return t.kind }

// Enabled reports whether packets are being produced.
func (t *SyntheticTrack) Enabled() bool { return t.enabled.Load() }

// SetEnabled pauses or resumes packet production. A stopped track stays silent.
func (t *SyntheticTrack) SetEnabled(enabled bool) {
	if t.stopped.Load() {
		return
	}
	t.enabled.Store(enabled)
}

// Stop ends capture. Later calls have no effect.
func (t *SyntheticTrack) Stop() {
	t.once.Do(func() {
		t.stopped.Store(true)
		t.enabled.Store(false)
		t.cancel()
		<-t.done
	})
}

// Stopped reports whether Stop has run.
func (t *SyntheticTrack) Stopped() bool { return t.stopped.Load() }

// Local returns the pion track to attach to a connection.
func (t *SyntheticTrack) Local() webrtc.TrackLocal { return t.local }
