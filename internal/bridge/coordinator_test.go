package bridge

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wem-technology/ios-webxr-sub000/internal/device"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
	"github.com/wem-technology/ios-webxr-sub000/internal/xrerr"
)

type fakeTracker struct {
	mu       sync.Mutex
	frames   chan TrackedFrame
	origin   xmath.Mat4
	starts   int
	pauses   int
	startErr error
	hits     map[RaycastTarget][]TrackerHit
}

func (f *fakeTracker) Start(ctx context.Context, originOffset xmath.Mat4) (<-chan TrackedFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.starts++
	f.origin = originOffset
	f.frames = make(chan TrackedFrame, 8)
	return f.frames, nil
}

func (f *fakeTracker) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
}

func (f *fakeTracker) Raycast(x, y float64, target RaycastTarget) []TrackerHit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[target]
}

func (f *fakeTracker) push(tf TrackedFrame) {
	f.mu.Lock()
	ch := f.frames
	f.mu.Unlock()
	ch <- tf
}

type replyLog struct {
	mu      sync.Mutex
	replies []Reply
}

func (r *replyLog) send(rep Reply) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, rep)
}

func (r *replyLog) ofType(typ string) []Reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Reply
	for _, rep := range r.replies {
		if rep.Type == typ {
			out = append(out, rep)
		}
	}
	return out
}

func (r *replyLog) last() Reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replies[len(r.replies)-1]
}

func poseFrame(ts float64, pos xmath.Vec3) TrackedFrame {
	return TrackedFrame{
		Timestamp: ts,
		View:      xmath.Invert(xmath.FromTranslation(pos)),
		FovY:      xmath.DegToRad(60),
	}
}

func waitForTimestamp(t *testing.T, mb *device.Mailbox, ms float64) device.LiveFrame {
	t.Helper()
	var got device.LiveFrame
	require.Eventually(t, func() bool {
		f, fresh, _ := mb.Take()
		if fresh {
			got = f
		}
		return fresh && f.Timestamp == ms
	}, 2*time.Second, time.Millisecond)
	return got
}

func requestMsg(cameraAccess bool) Message {
	return Message{
		Type:         MsgRequestSession,
		Callback:     "onSession",
		DataCallback: "onData",
		Options:      &SessionRequestOptions{ComputerVisionData: cameraAccess},
	}
}

func TestCoordinator_RequestSessionFeedsMailbox(t *testing.T) {
	tr := &fakeTracker{}
	mb := device.NewMailbox()
	c := NewCoordinator(tr, WithMailbox(mb), WithViewport(100, 200))
	defer c.Close()

	access, err := c.RequestSession(context.Background(), device.SessionOptions{Mode: "immersive-ar"})
	require.NoError(t, err)
	assert.Equal(t, device.Access{CameraAccess: false, WorldAccess: true, WebXRAccess: true}, access)
	assert.True(t, c.Running())

	pos := xmath.Translation(tr.origin)
	assert.InDelta(t, -FloorHeight, pos[1], 1e-9)

	tr.push(poseFrame(0.5, xmath.Vec3{1, 2, 3}))
	f := waitForTimestamp(t, mb, 500)

	cam := xmath.Translation(f.CameraTransform)
	assert.InDelta(t, 1, cam[0], 1e-9)
	assert.InDelta(t, 2, cam[1], 1e-9)
	assert.InDelta(t, 3, cam[2], 1e-9)
	assert.Equal(t, float64(DefaultLightIntensity), f.LightIntensity)
	assert.True(t, xmath.ApproxEqual(xmath.Perspective(xmath.DegToRad(60), 0.5, ProjectionNear, ProjectionFar), f.Projection, 1e-9))
}

func TestCoordinator_StopPausesTracker(t *testing.T) {
	tr := &fakeTracker{}
	c := NewCoordinator(tr)

	var active []bool
	c.onActive = func(on bool) { active = append(active, on) }

	_, err := c.RequestSession(context.Background(), device.SessionOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, c.Stop(context.Background()))

	assert.False(t, c.Running())
	assert.Equal(t, 1, tr.pauses)
	assert.Equal(t, []bool{true, false}, active)
}

func TestCoordinator_RestartStopsPreviousSession(t *testing.T) {
	tr := &fakeTracker{}
	c := NewCoordinator(tr)
	defer c.Close()

	_, err := c.RequestSession(context.Background(), device.SessionOptions{})
	require.NoError(t, err)
	_, err = c.RequestSession(context.Background(), device.SessionOptions{CameraAccess: true})
	require.NoError(t, err)

	assert.Equal(t, 2, tr.starts)
	assert.Equal(t, 1, tr.pauses)
	assert.True(t, c.CameraAccess())
}

func TestCoordinator_Raycast(t *testing.T) {
	existing := TrackerHit{WorldTransform: xmath.FromTranslation(xmath.Vec3{0, 0, -1}), AnchorID: "plane-1"}
	estimated := TrackerHit{WorldTransform: xmath.FromTranslation(xmath.Vec3{0, 0, -5})}

	t.Run("not running", func(t *testing.T) {
		c := NewCoordinator(&fakeTracker{})
		_, err := c.Raycast(context.Background(), 0.5, 0.5)
		assert.True(t, xrerr.IsBridgeUnavailable(err))
	})

	t.Run("existing geometry first", func(t *testing.T) {
		tr := &fakeTracker{hits: map[RaycastTarget][]TrackerHit{
			ExistingPlaneGeometry: {existing},
			EstimatedPlane:        {estimated},
		}}
		c := NewCoordinator(tr)
		defer c.Close()
		_, err := c.RequestSession(context.Background(), device.SessionOptions{})
		require.NoError(t, err)

		hits, err := c.Raycast(context.Background(), 0.5, 0.5)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "plane-1", hits[0].UUID)
		assert.Equal(t, existing.WorldTransform, hits[0].Transform)
	})

	t.Run("falls back to estimated planes", func(t *testing.T) {
		tr := &fakeTracker{hits: map[RaycastTarget][]TrackerHit{EstimatedPlane: {estimated}}}
		c := NewCoordinator(tr)
		defer c.Close()
		_, err := c.RequestSession(context.Background(), device.SessionOptions{})
		require.NoError(t, err)

		hits, err := c.Raycast(context.Background(), 0.5, 0.5)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Empty(t, hits[0].UUID)
	})
}

func TestCoordinator_PageProtocol(t *testing.T) {
	tr := &fakeTracker{}
	mb := device.NewMailbox()
	c := NewCoordinator(tr, WithMailbox(mb))
	log := &replyLog{}
	ctx := context.Background()

	require.NoError(t, c.HandleMessage(ctx, Message{Type: MsgInitAR, Callback: "onInit"}, log.send))
	assert.Equal(t, Reply{Type: ReplyCallback, Callback: "onInit", Data: DeviceID}, log.last())

	require.NoError(t, c.HandleMessage(ctx, requestMsg(false), log.send))
	assert.Equal(t, "onSession", log.last().Callback)
	assert.Equal(t, device.Access{WorldAccess: true, WebXRAccess: true}, log.last().Data)

	// First update goes to the page.
	tr.push(poseFrame(1, xmath.Vec3{}))
	require.Eventually(t, func() bool { return len(log.ofType(ReplyData)) == 1 }, 2*time.Second, time.Millisecond)
	first := log.ofType(ReplyData)[0]
	assert.Equal(t, "onData", first.Callback)
	assert.Equal(t, 1000.0, first.Data.(FrameData).Timestamp)

	// Unacknowledged: the next update reaches the mailbox only.
	tr.push(poseFrame(2, xmath.Vec3{}))
	waitForTimestamp(t, mb, 2000)
	assert.Len(t, log.ofType(ReplyData), 1)

	// frameDone re-arms delivery.
	require.NoError(t, c.HandleMessage(ctx, Message{Type: MsgFrameDone}, log.send))
	tr.push(poseFrame(3, xmath.Vec3{}))
	require.Eventually(t, func() bool { return len(log.ofType(ReplyData)) == 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 3000.0, log.ofType(ReplyData)[1].Data.(FrameData).Timestamp)

	// Closing asks the page to reload.
	c.Close()
	assert.Equal(t, Reply{Type: ReplyReload}, log.last())
	assert.False(t, c.Running())
}

func TestCoordinator_StopARDoesNotReload(t *testing.T) {
	tr := &fakeTracker{}
	c := NewCoordinator(tr)
	log := &replyLog{}
	ctx := context.Background()

	require.NoError(t, c.HandleMessage(ctx, requestMsg(false), log.send))
	require.NoError(t, c.HandleMessage(ctx, Message{Type: MsgStopAR}, log.send))
	c.Close()

	assert.Empty(t, log.ofType(ReplyReload))
	assert.Equal(t, 1, tr.pauses)
}

func TestCoordinator_HitTestMessage(t *testing.T) {
	hit := TrackerHit{WorldTransform: xmath.FromTranslation(xmath.Vec3{1, 0, -2}), AnchorID: "floor"}
	tr := &fakeTracker{hits: map[RaycastTarget][]TrackerHit{ExistingPlaneGeometry: {hit}}}
	c := NewCoordinator(tr)
	log := &replyLog{}

	x, y := 0.25, 0.75
	require.NoError(t, c.HandleMessage(context.Background(), Message{Type: MsgHitTest, Callback: "onHit", X: &x, Y: &y}, log.send))

	rep := log.last()
	assert.Equal(t, "onHit", rep.Callback)
	payload, ok := rep.Data.([]HitPayload)
	require.True(t, ok)
	require.Len(t, payload, 1)
	assert.Equal(t, "floor", payload[0].UUID)
	assert.Equal(t, xmath.ToArray(hit.WorldTransform), payload[0].WorldTransform)
}

func TestCoordinator_HitTestWithoutPoint(t *testing.T) {
	c := NewCoordinator(&fakeTracker{})
	log := &replyLog{}
	err := c.HandleMessage(context.Background(), Message{Type: MsgHitTest, Callback: "onHit"}, log.send)
	assert.True(t, xrerr.IsOutOfRange(err))
	assert.Equal(t, ReplyError, log.last().Type)
}

func TestCoordinator_StartFailure(t *testing.T) {
	tr := &fakeTracker{startErr: errors.New("no camera")}
	c := NewCoordinator(tr)
	log := &replyLog{}

	err := c.HandleMessage(context.Background(), requestMsg(true), log.send)
	assert.True(t, xrerr.IsBridgeUnavailable(err))
	assert.False(t, c.Running())

	rep := log.last()
	assert.Equal(t, ReplyError, rep.Type)
	assert.Equal(t, "onSession", rep.Callback)
}

func TestCoordinator_PageErrorIsLoggedOnly(t *testing.T) {
	c := NewCoordinator(&fakeTracker{})
	log := &replyLog{}
	require.NoError(t, c.HandleMessage(context.Background(), Message{ErrorMessage: "script failed"}, log.send))
	assert.Empty(t, log.replies)
}

func TestCoordinator_CameraImages(t *testing.T) {
	tr := &fakeTracker{}
	mb := device.NewMailbox()
	c := NewCoordinator(tr, WithMailbox(mb), WithViewport(100, 200), WithVideoFrameSkip(1))
	log := &replyLog{}
	ctx := context.Background()

	require.NoError(t, c.HandleMessage(ctx, requestMsg(true), log.send))

	f := poseFrame(1, xmath.Vec3{})
	f.Image = solidImage(400, 400)
	tr.push(f)

	var img *device.Image
	require.Eventually(t, func() bool {
		_, _, got := mb.Take()
		if got != nil {
			img = got
		}
		return img != nil
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 100, img.Width)
	assert.Equal(t, 200, img.Height)
	assert.NotEmpty(t, img.Data)

	// The encoded image rides on the next update the page receives.
	require.Eventually(t, func() bool { return len(log.ofType(ReplyData)) == 1 }, 2*time.Second, time.Millisecond)
	require.NoError(t, c.HandleMessage(ctx, Message{Type: MsgFrameDone}, log.send))
	tr.push(poseFrame(2, xmath.Vec3{}))
	require.Eventually(t, func() bool { return len(log.ofType(ReplyData)) == 2 }, 2*time.Second, time.Millisecond)

	var withImage int
	for _, rep := range log.ofType(ReplyData) {
		if rep.Data.(FrameData).VideoUpdated {
			withImage++
		}
	}
	assert.Equal(t, 1, withImage)
	c.Close()
}

func TestCoordinator_NoImagesWithoutCameraAccess(t *testing.T) {
	tr := &fakeTracker{}
	mb := device.NewMailbox()
	c := NewCoordinator(tr, WithMailbox(mb), WithVideoFrameSkip(1))
	defer c.Close()

	_, err := c.RequestSession(context.Background(), device.SessionOptions{})
	require.NoError(t, err)

	f := poseFrame(1, xmath.Vec3{})
	f.Image = image.NewRGBA(image.Rect(0, 0, 64, 64))
	tr.push(f)
	waitForTimestamp(t, mb, 1000)
	c.encoders.Wait()

	_, _, img := mb.Take()
	assert.Nil(t, img)
}
