// ABOUTME: Tests for the voice-note recording sub-machine
// ABOUTME: Fake capture device and clock; verifies discard, cancel, and device denial

package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice tracks capture lifecycle calls
type fakeDevice struct {
	startErr  error
	stopErr   error
	started   int
	stopped   int
	cancelled int
	clip      *Clip
}

func (d *fakeDevice) Start(ctx context.Context) error {
	if d.startErr != nil {
		return d.startErr
	}
	d.started++
	return nil
}

func (d *fakeDevice) Stop() (*Clip, error) {
	if d.stopErr != nil {
		return nil, d.stopErr
	}
	d.stopped++
	if d.clip != nil {
		return d.clip, nil
	}
	return &Clip{Data: []byte("audio"), MimeType: "audio/ogg"}, nil
}

func (d *fakeDevice) Cancel() error {
	d.cancelled++
	return nil
}

// fakeClock advances manually
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRecorder_RecordStopDiscard(t *testing.T) {
	device := &fakeDevice{}
	clock := &fakeClock{t: time.Now()}
	r := NewRecorder(device, clock.now)

	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, RecorderRecording, r.State())

	clock.advance(12 * time.Second)
	assert.Equal(t, 12, r.Elapsed())

	// Stop transmits nothing; the clip is held for preview
	require.NoError(t, r.Stop())
	assert.Equal(t, RecorderStopped, r.State())
	assert.Equal(t, 12, r.Elapsed())

	// Discard: back to idle, data released, no upload ever happened
	require.NoError(t, r.Discard())
	assert.Equal(t, RecorderIdle, r.State())
	assert.Equal(t, 0, r.Elapsed())

	_, err := r.Confirm()
	assert.ErrorIs(t, err, ErrNoPreview)
}

func TestRecorder_ConfirmHandsOverClip(t *testing.T) {
	device := &fakeDevice{clip: &Clip{Data: []byte("voicedata"), MimeType: "audio/ogg"}}
	clock := &fakeClock{t: time.Now()}
	r := NewRecorder(device, clock.now)

	require.NoError(t, r.Start(context.Background()))
	clock.advance(7 * time.Second)
	require.NoError(t, r.Stop())

	clip, err := r.Confirm()
	require.NoError(t, err)
	assert.Equal(t, []byte("voicedata"), clip.Data)
	assert.Equal(t, 7, clip.DurationSeconds)
	assert.Equal(t, RecorderIdle, r.State())
}

func TestRecorder_CancelReleasesDeviceWithoutStop(t *testing.T) {
	device := &fakeDevice{}
	r := NewRecorder(device, nil)

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Cancel())

	assert.Equal(t, RecorderIdle, r.State())
	assert.Equal(t, 1, device.cancelled)
	assert.Equal(t, 0, device.stopped, "cancel must bypass the stop/preview path")
}

func TestRecorder_DeviceDenied(t *testing.T) {
	device := &fakeDevice{startErr: errors.New("permission denied")}
	r := NewRecorder(device, nil)

	err := r.Start(context.Background())
	assert.ErrorIs(t, err, ErrRecordingUnavailable)
	assert.Equal(t, RecorderIdle, r.State(), "denied start leaves the machine idle")
}

func TestRecorder_OnlyOneRecordingInProgress(t *testing.T) {
	device := &fakeDevice{}
	r := NewRecorder(device, nil)

	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrRecorderBusy)
	assert.Equal(t, 1, device.started)
}

func TestRecorder_StopFromIdleRejected(t *testing.T) {
	r := NewRecorder(&fakeDevice{}, nil)
	assert.Error(t, r.Stop())
	assert.Error(t, r.Cancel())
	assert.ErrorIs(t, r.Discard(), ErrNoPreview)
}

func TestRecorder_StopFailureReturnsToIdle(t *testing.T) {
	device := &fakeDevice{stopErr: errors.New("device wedged")}
	r := NewRecorder(device, nil)

	require.NoError(t, r.Start(context.Background()))
	err := r.Stop()
	assert.ErrorIs(t, err, ErrRecordingUnavailable)
	assert.Equal(t, RecorderIdle, r.State())
}
