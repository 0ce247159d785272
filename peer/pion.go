package peer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"peercall/media"
)

// PionFactory creates pion peer connections sharing one API.
type PionFactory struct {
	api  *webrtc.API
	conf webrtc.Configuration
}

// NewPionFactory builds the media engine, interceptors and setting engine
// described by conf.
func NewPionFactory(conf Config) (*PionFactory, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{LoggerFactory: conf.loggerFactory()}
	if err := conf.SetPortRange(&se); err != nil {
		return nil, err
	}
	if conf.Net != nil {
		se.SetNet(conf.Net)
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return &PionFactory{
		api: webrtc.NewAPI(
			webrtc.WithSettingEngine(se),
			webrtc.WithMediaEngine(me),
			webrtc.WithInterceptorRegistry(registry),
		),
		conf: conf.webrtcConfig(),
	}, nil
}

// NewConnection creates a new peer connection.
func (f *PionFactory) NewConnection() (Connection, error) {
	pc, err := f.api.NewPeerConnection(f.conf)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return &pionConnection{pc: pc}, nil
}

type pionConnection struct {
	pc *webrtc.PeerConnection

	closeOnce sync.Once
	closeErr  error
}

func (c *pionConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

// AddTrack attaches track and drains RTCP from its sender until the
// connection closes.
func (c *pionConnection) AddTrack(track media.Track) error {
	sender, err := c.pc.AddTrack(track.Local())
	if err != nil {
		return fmt.Errorf("failed to add track: %w", err)
	}

	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, rtcpErr := sender.Read(rtcpBuf); rtcpErr != nil {
				if !errors.Is(rtcpErr, io.EOF) && !errors.Is(rtcpErr, io.ErrClosedPipe) {
					slog.Debug("rtcp read ended", "track", track.ID(), "err", rtcpErr)
				}
				return
			}
		}
	}()
	return nil
}

func (c *pionConnection) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if candidate == nil {
			return
		}
		f(candidate.ToJSON())
	})
}

func (c *pionConnection) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(f)
}

func (c *pionConnection) OnTrack(f func(RemoteTrack)) {
	c.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := media.Audio
		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			kind = media.Video
		}
		f(RemoteTrack{
			ID:       remote.ID(),
			StreamID: remote.StreamID(),
			Kind:     kind,
			Codec:    remote.Codec().MimeType,
			Track:    remote,
		})
	})
}

func (c *pionConnection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.pc.Close()
	})
	return c.closeErr
}
