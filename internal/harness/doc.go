// Package harness runs scripted XR sessions and checks their traces.
//
// A scenario names a device profile and a session mode, then drives the
// session step by step: ticks, viewer poses, controller buttons, screen
// touches, anchors, hit tests, render-state and frame-rate changes.
//
// # Scenario Format
//
//	name: select_press
//	description: "Pressing the right trigger fires select then selectstart"
//	profile: standalone-vr
//	tick_rate: 50
//	steps:
//	  - tick: 1
//	  - button: {hand: right, id: trigger, value: 1}
//	  - tick: 1
//	  - button: {hand: right, id: trigger, value: 0}
//	  - tick: 1
//	assertions:
//	  - type: event_order
//	    events: [select, selectstart, selectend]
//
// Each step carries exactly one action. A step that should fail names the
// error code with expect_error:
//
//	  - end: true
//	  - tick: 1
//	    expect_error: INVALID_STATE
//
// # Assertion Types
//
//   - event_count: an event was emitted exactly count times
//   - event_order: events first appear in the listed order
//   - anchors_tracked: anchors tracked in the last frame
//   - hit_count: hit-test results for a named source in the last frame
//   - viewer_position: viewer position in the last frame, within tolerance
//   - session_state: created, running or ended after the last step
//   - persisted_anchors: anchors in the scenario's store
//
// # Deterministic Testing
//
// Every run uses a fixed-rate frame clock, sequential ids and a fresh
// in-memory store, and immersive-ar sessions get a scripted sensor bridge
// that raycasts the harness room. The same scenario always produces the same
// trace, which RunWithGolden compares against testdata/golden.
package harness
