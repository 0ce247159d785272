package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Reason classifies a capture failure.
type Reason int

// Capture failure reasons.
const (
	Other Reason = iota
	PermissionDenied
	NoDevice
)

func (r Reason) String() string {
	switch r {
	case PermissionDenied:
		return "permission denied"
	case NoDevice:
		return "no device"
	default:
		return "capture failed"
	}
}

// ErrNothingRequested is returned when the constraints request no track.
var ErrNothingRequested = errors.New("constraints request neither audio nor video")

// AccessError is returned when local capture cannot be acquired.
type AccessError struct {
	Reason Reason
	Err    error
}

func (e *AccessError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("media access: %s", e.Reason)
	}
	return fmt.Sprintf("media access: %s: %v", e.Reason, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// Track is a local capture track. Only its owner stops it.
type Track interface {
	ID() string
	Kind() Kind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
	Local() webrtc.TrackLocal
}

// Provider is the capture device, the equivalent of getUserMedia.
//
//go:generate mockgen -destination=mock_provider.go -package=media . Provider,Track
type Provider interface {
	GetUserMedia(ctx context.Context, constraints Constraints) ([]Track, error)
}
