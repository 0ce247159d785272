package media_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peercall/media"
)

func TestConstraintsJSON(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    media.Constraints
		wantErr bool
	}{
		{
			name: "given bool video when decoded then enable without preferences",
			data: `{"audio":true,"video":true}`,
			want: media.Constraints{Audio: true, Video: media.VideoConstraints{Enabled: true}},
		},
		{
			name: "given video object when decoded then enable with preferences",
			data: `{"audio":false,"video":{"width":640,"height":480,"facingMode":"user"}}`,
			want: media.Constraints{Video: media.VideoConstraints{Enabled: true, Width: 640, Height: 480, FacingMode: "user"}},
		},
		{
			name: "given video false when decoded then disable video",
			data: `{"audio":true,"video":false}`,
			want: media.Constraints{Audio: true},
		},
		{
			name:    "given video string when decoded then return error",
			data:    `{"video":"yes"}`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got media.Constraints
			err := json.Unmarshal([]byte(tt.data), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	out, err := json.Marshal(media.Constraints{Audio: true, Video: media.VideoConstraints{Enabled: true}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"audio":true,"video":true}`, string(out))
}

func mockTrack(ctrl *gomock.Controller, kind media.Kind) *media.MockTrack {
	tr := media.NewMockTrack(ctrl)
	tr.EXPECT().Kind().Return(kind).AnyTimes()
	return tr
}

func TestSessionAcquireRelease(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := media.NewMockProvider(ctrl)
	audio := mockTrack(ctrl, media.Audio)
	video := mockTrack(ctrl, media.Video)

	provider.EXPECT().
		GetUserMedia(gomock.Any(), media.DefaultConstraints).
		Return([]media.Track{audio, video}, nil).
		Times(1)
	audio.EXPECT().Stop().Times(1)
	video.EXPECT().Stop().Times(1)

	s := media.NewSession(provider)
	first, err := s.Acquire(context.Background(), media.DefaultConstraints)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := s.Acquire(context.Background(), media.DefaultConstraints)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	s.Release()
	s.Release()
	assert.Empty(t, s.Tracks())
}

func TestSessionAccessErrors(t *testing.T) {
	tests := []struct {
		name       string
		providerEr error
		wantReason media.Reason
	}{
		{
			name:       "given permission denied when acquired then keep reason",
			providerEr: &media.AccessError{Reason: media.PermissionDenied},
			wantReason: media.PermissionDenied,
		},
		{
			name:       "given unclassified failure when acquired then wrap as other",
			providerEr: errors.New("device busy"),
			wantReason: media.Other,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			provider := media.NewMockProvider(ctrl)
			provider.EXPECT().GetUserMedia(gomock.Any(), gomock.Any()).Return(nil, tt.providerEr)

			_, err := media.NewSession(provider).Acquire(context.Background(), media.DefaultConstraints)
			var accessErr *media.AccessError
			require.ErrorAs(t, err, &accessErr)
			assert.Equal(t, tt.wantReason, accessErr.Reason)
		})
	}

	t.Run("given no kinds requested when acquired then fail without capture", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		provider := media.NewMockProvider(ctrl)

		_, err := media.NewSession(provider).Acquire(context.Background(), media.Constraints{})
		assert.ErrorIs(t, err, media.ErrNothingRequested)
	})
}

func TestSessionReleaseDuringAcquire(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := media.NewMockProvider(ctrl)
	audio := mockTrack(ctrl, media.Audio)
	audio.EXPECT().Stop().Times(1)

	s := media.NewSession(provider)
	provider.EXPECT().GetUserMedia(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, media.Constraints) ([]media.Track, error) {
			s.Release()
			return []media.Track{audio}, nil
		})

	_, err := s.Acquire(context.Background(), media.Constraints{Audio: true})
	assert.ErrorIs(t, err, media.ErrReleased)
	assert.Empty(t, s.Tracks())
}

func TestSyntheticProvider(t *testing.T) {
	s := media.NewSession(media.NewSyntheticProvider())
	tracks, err := s.Acquire(context.Background(), media.DefaultConstraints)
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, media.Audio, tracks[0].Kind())
	assert.Equal(t, media.Video, tracks[1].Kind())
	assert.NotNil(t, tracks[0].Local())

	assert.False(t, s.Toggle(media.Audio))
	assert.False(t, tracks[0].Enabled())
	assert.True(t, s.Toggle(media.Audio))
	assert.True(t, tracks[1].Enabled())

	s.Release()
	for _, tr := range tracks {
		assert.True(t, tr.(*media.SyntheticTrack).Stopped())
		assert.False(t, tr.Enabled())
	}
	assert.False(t, s.Toggle(media.Video))

	t.Run("given missing camera when video requested then report no device", func(t *testing.T) {
		p := &media.SyntheticProvider{HasMicrophone: true}
		_, err := media.NewSession(p).Acquire(context.Background(), media.DefaultConstraints)
		var accessErr *media.AccessError
		require.ErrorAs(t, err, &accessErr)
		assert.Equal(t, media.NoDevice, accessErr.Reason)
	})
}
