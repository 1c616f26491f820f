// ABOUTME: Voice-note recording sub-machine: idle, recording, stopped-with-preview
// ABOUTME: The capture device is an injectable capability so tests need no hardware

package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRecordingUnavailable is returned when the capture device is
// inaccessible or permission was denied. The sub-machine stays idle.
var ErrRecordingUnavailable = errors.New("recording device unavailable")

// ErrRecorderBusy is returned when a second recording is started while one
// is already in progress for the session.
var ErrRecorderBusy = errors.New("recording already in progress")

// ErrNoPreview is returned when confirm or discard is called without a
// stopped recording.
var ErrNoPreview = errors.New("no stopped recording to act on")

// Clip is captured audio ready for upload.
type Clip struct {
	Data            []byte
	MimeType        string
	DurationSeconds int
}

// CaptureDevice abstracts the underlying audio hardware.
type CaptureDevice interface {
	// Start begins capturing. An error means the device is inaccessible.
	Start(ctx context.Context) error
	// Stop ends capturing and returns the captured clip.
	Stop() (*Clip, error)
	// Cancel releases the device immediately, discarding captured data.
	Cancel() error
}

// RecorderState enumerates the sub-machine states.
type RecorderState int

// Recorder states
const (
	RecorderIdle RecorderState = iota
	RecorderRecording
	RecorderStopped
)

func (s RecorderState) String() string {
	switch s {
	case RecorderIdle:
		return "idle"
	case RecorderRecording:
		return "recording"
	case RecorderStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Recorder drives one conversation session's voice-note capture. Stopping
// transmits nothing: the operator previews the clip and then discards it or
// confirms it into the send pipeline. At most one recording is in progress
// at a time.
type Recorder struct {
	mu        sync.Mutex
	state     RecorderState
	device    CaptureDevice
	clip      *Clip
	startedAt time.Time
	now       func() time.Time
}

// NewRecorder creates an idle recorder around the capture device.
// nowFn overrides the clock for tests; pass nil for time.Now.
func NewRecorder(device CaptureDevice, nowFn func() time.Time) *Recorder {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Recorder{
		device: device,
		now:    nowFn,
	}
}

// State returns the current sub-machine state.
func (r *Recorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start begins a recording. Only valid from idle.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RecorderIdle {
		return ErrRecorderBusy
	}

	if err := r.device.Start(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRecordingUnavailable, err)
	}

	r.state = RecorderRecording
	r.startedAt = r.now()
	return nil
}

// Elapsed reports the recording duration at one-second resolution: live
// while recording, frozen at the captured length once stopped, zero when
// idle.
func (r *Recorder) Elapsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case RecorderRecording:
		return int(r.now().Sub(r.startedAt) / time.Second)
	case RecorderStopped:
		return r.clip.DurationSeconds
	default:
		return 0
	}
}

// Stop ends the capture and holds the clip for preview. Nothing is
// transmitted yet.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RecorderRecording {
		return fmt.Errorf("cannot stop from %s", r.state)
	}

	clip, err := r.device.Stop()
	if err != nil {
		// Device failed mid-capture; nothing recoverable, back to idle
		r.state = RecorderIdle
		return fmt.Errorf("%w: %v", ErrRecordingUnavailable, err)
	}

	clip.DurationSeconds = int(r.now().Sub(r.startedAt) / time.Second)
	r.clip = clip
	r.state = RecorderStopped
	return nil
}

// Cancel aborts an in-progress recording, releasing the device immediately
// without going through the stop/preview path.
func (r *Recorder) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RecorderRecording {
		return fmt.Errorf("cannot cancel from %s", r.state)
	}

	err := r.device.Cancel()
	r.state = RecorderIdle
	r.clip = nil
	if err != nil {
		return fmt.Errorf("releasing capture device: %w", err)
	}
	return nil
}

// Discard drops a stopped recording and returns to idle. No message row is
// created and no blob is uploaded.
func (r *Recorder) Discard() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RecorderStopped {
		return ErrNoPreview
	}

	r.clip = nil
	r.state = RecorderIdle
	return nil
}

// Confirm hands the stopped clip to the caller for the send protocol and
// returns the recorder to idle.
func (r *Recorder) Confirm() (*Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RecorderStopped {
		return nil, ErrNoPreview
	}

	clip := r.clip
	r.clip = nil
	r.state = RecorderIdle
	return clip, nil
}
