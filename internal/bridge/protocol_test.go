package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
		check   func(t *testing.T, m Message)
	}{
		{
			name:  "initAR",
			input: `{"type":"initAR","callback":"cb1"}`,
			check: func(t *testing.T, m Message) {
				assert.Equal(t, MsgInitAR, m.Type)
				assert.Equal(t, "cb1", m.Callback)
			},
		},
		{
			name:  "requestSession with camera",
			input: `{"type":"requestSession","callback":"cb","data_callback":"onData","options":{"computer_vision_data":true}}`,
			check: func(t *testing.T, m Message) {
				require.NotNil(t, m.Options)
				assert.True(t, m.Options.ComputerVisionData)
				assert.Equal(t, "onData", m.DataCallback)
			},
		},
		{
			name:    "requestSession without options",
			input:   `{"type":"requestSession","data_callback":"onData"}`,
			wantErr: "options and data_callback are required",
		},
		{
			name:  "hitTest at zero",
			input: `{"type":"hitTest","callback":"hit","x":0,"y":0.5}`,
			check: func(t *testing.T, m Message) {
				require.NotNil(t, m.X)
				assert.Equal(t, 0.0, *m.X)
				assert.Equal(t, 0.5, *m.Y)
			},
		},
		{
			name:    "hitTest missing y",
			input:   `{"type":"hitTest","callback":"hit","x":0.5}`,
			wantErr: "x, y and callback are required",
		},
		{
			name:  "page error needs no type",
			input: `{"error_message":"boom"}`,
			check: func(t *testing.T, m Message) {
				assert.Equal(t, "boom", m.ErrorMessage)
			},
		},
		{name: "frameDone", input: `{"type":"frameDone"}`},
		{name: "missing type", input: `{}`, wantErr: "message has no type"},
		{name: "unknown type", input: `{"type":"launch"}`, wantErr: `unknown message type "launch"`},
		{name: "malformed", input: `{"type":`, wantErr: "decode message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := DecodeMessage([]byte(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, m)
			}
		})
	}
}

func TestFrameData_LiveFrame(t *testing.T) {
	cam := xmath.FromTranslation(xmath.Vec3{1, 2, 3})
	proj := xmath.Perspective(1, 0.5, ProjectionNear, ProjectionFar)
	f := FrameData{
		Timestamp:        1500,
		LightIntensity:   900,
		CameraTransform:  xmath.ToArray(cam),
		ProjectionCamera: xmath.ToArray(proj),
	}

	live := f.LiveFrame()
	assert.Equal(t, 1500.0, live.Timestamp)
	assert.Equal(t, 900.0, live.LightIntensity)
	assert.Equal(t, cam, live.CameraTransform)
	assert.Equal(t, proj, live.Projection)
}

func TestFrameData_ImageOnlyWhenUpdated(t *testing.T) {
	f := FrameData{VideoData: "abc", VideoWidth: 2, VideoHeight: 4}
	assert.Nil(t, f.Image())

	f.VideoUpdated = true
	img := f.Image()
	require.NotNil(t, img)
	assert.Equal(t, "abc", img.Data)
	assert.Equal(t, 2, img.Width)
	assert.Equal(t, 4, img.Height)
}

func TestReply_JSON(t *testing.T) {
	data, err := json.Marshal(Reply{Type: ReplyReload})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"reload"}`, string(data))

	data, err = json.Marshal(Reply{Type: ReplyCallback, Callback: "hit", Data: []HitPayload{{UUID: "p1"}}})
	require.NoError(t, err)
	var decoded struct {
		Data []HitPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Data, 1)
	assert.Equal(t, "p1", decoded.Data[0].UUID)
}
