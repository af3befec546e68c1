package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/wem-technology/ios-webxr-sub000/internal/device"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

// Page-to-native message names.
const (
	MsgInitAR         = "initAR"
	MsgRequestSession = "requestSession"
	MsgStopAR         = "stopAR"
	MsgHitTest        = "hitTest"
	// MsgFrameDone acknowledges a data callback and re-arms frame delivery.
	MsgFrameDone = "frameDone"
)

// Native-to-page reply kinds.
const (
	ReplyCallback = "callback"
	ReplyData     = "data"
	ReplyReload   = "reload"
	ReplyError    = "error"
)

// DeviceID is the identifier handed back by initAR.
const DeviceID = "ios-ar-device-id"

// DefaultLightIntensity is reported when the tracker has no light estimate.
const DefaultLightIntensity = 1000

// SessionRequestOptions are the page's session options.
type SessionRequestOptions struct {
	ComputerVisionData bool     `json:"computer_vision_data"`
	Mode               string   `json:"mode,omitempty"`
	Features           []string `json:"features,omitempty"`
}

// Message is one page-to-native call.
type Message struct {
	Type         string                 `json:"type"`
	Callback     string                 `json:"callback,omitempty"`
	DataCallback string                 `json:"data_callback,omitempty"`
	Options      *SessionRequestOptions `json:"options,omitempty"`
	X            *float64               `json:"x,omitempty"`
	Y            *float64               `json:"y,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// Reply is one native-to-page call. Data is the callback argument.
type Reply struct {
	Type     string `json:"type"`
	Callback string `json:"callback,omitempty"`
	Data     any    `json:"data,omitempty"`
}

// FrameData is the per-update payload delivered to the data callback.
// Matrices are 16-element column-major arrays.
type FrameData struct {
	// Timestamp in milliseconds.
	Timestamp        float64     `json:"timestamp"`
	LightIntensity   float64     `json:"light_intensity"`
	CameraTransform  [16]float64 `json:"camera_transform"`
	CameraView       [16]float64 `json:"camera_view"`
	ProjectionCamera [16]float64 `json:"projection_camera"`
	VideoData        string      `json:"video_data,omitempty"`
	VideoWidth       int         `json:"video_width,omitempty"`
	VideoHeight      int         `json:"video_height,omitempty"`
	VideoUpdated     bool        `json:"video_updated"`
}

// LiveFrame converts the pose part of the payload for the device mailbox.
func (f FrameData) LiveFrame() device.LiveFrame {
	return device.LiveFrame{
		Timestamp:       f.Timestamp,
		CameraTransform: xmath.Mat4(f.CameraTransform),
		Projection:      xmath.Mat4(f.ProjectionCamera),
		LightIntensity:  f.LightIntensity,
	}
}

// Image returns the payload's image, or nil when none was updated.
func (f FrameData) Image() *device.Image {
	if !f.VideoUpdated {
		return nil
	}
	return &device.Image{Data: f.VideoData, Width: f.VideoWidth, Height: f.VideoHeight}
}

// HitPayload is one hitTest result.
type HitPayload struct {
	WorldTransform [16]float64 `json:"world_transform"`
	UUID           string      `json:"uuid,omitempty"`
}

// DecodeMessage parses and checks a page message.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.ErrorMessage != "" {
		return m, nil
	}
	switch m.Type {
	case MsgInitAR, MsgStopAR, MsgFrameDone:
	case MsgRequestSession:
		if m.Options == nil || m.DataCallback == "" {
			return Message{}, fmt.Errorf("requestSession: options and data_callback are required")
		}
	case MsgHitTest:
		if m.X == nil || m.Y == nil || m.Callback == "" {
			return Message{}, fmt.Errorf("hitTest: x, y and callback are required")
		}
	case "":
		return Message{}, fmt.Errorf("message has no type")
	default:
		return Message{}, fmt.Errorf("unknown message type %q", m.Type)
	}
	return m, nil
}
