// Package media acquires and releases local capture tracks.
package media

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind is the media kind of a track.
type Kind string

// Track kinds.
const (
	Audio Kind = "audio"
	Video Kind = "video"
)

// Constraints selects the local tracks to capture. Video accepts either a
// bool or {width, height, facingMode} in JSON.
type Constraints struct {
	Audio bool             `json:"audio" mapstructure:"audio"`
	Video VideoConstraints `json:"video" mapstructure:"video"`
}

// VideoConstraints holds the camera preferences. Zero Width, Height or
// FacingMode leave the choice to the provider.
type VideoConstraints struct {
	Enabled    bool   `mapstructure:"enabled"`
	Width      int    `mapstructure:"width"`
	Height     int    `mapstructure:"height"`
	FacingMode string `mapstructure:"facing_mode"`
}

// DefaultConstraints captures audio and video with provider defaults.
var DefaultConstraints = Constraints{Audio: true, Video: VideoConstraints{Enabled: true}}

// Wants reports whether kind is requested.
func (c Constraints) Wants(kind Kind) bool {
	switch kind {
	case Audio:
		return c.Audio
	case Video:
		return c.Video.Enabled
	}
	return false
}

func (c Constraints) String() string {
	return fmt.Sprintf("audio=%t video=%t %dx%d %s", c.Audio, c.Video.Enabled, c.Video.Width, c.Video.Height, c.Video.FacingMode)
}

type videoObject struct {
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	FacingMode string `json:"facingMode,omitempty"`
}

// UnmarshalJSON accepts true, false or a preferences object.
func (v *VideoConstraints) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		var enabled bool
		if err := json.Unmarshal(data, &enabled); err != nil {
			return fmt.Errorf("video must be a bool or an object: %w", err)
		}
		*v = VideoConstraints{Enabled: enabled}
		return nil
	}

	var obj videoObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("video must be a bool or an object: %w", err)
	}
	*v = VideoConstraints{
		Enabled:    true,
		Width:      obj.Width,
		Height:     obj.Height,
		FacingMode: obj.FacingMode,
	}
	return nil
}

// MarshalJSON writes a bool unless preferences are set.
func (v VideoConstraints) MarshalJSON() ([]byte, error) {
	if !v.Enabled || (v.Width == 0 && v.Height == 0 && v.FacingMode == "") {
		return json.Marshal(v.Enabled)
	}
	return json.Marshal(videoObject{Width: v.Width, Height: v.Height, FacingMode: v.FacingMode})
}
