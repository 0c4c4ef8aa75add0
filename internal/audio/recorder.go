// Package audio captures the raw mulaw frames of a call and turns them into
// a single WAV artifact plus a manifest describing who spoke when.
package audio

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/voice-support-relay/internal/logging"
)

// ErrNoFrames is returned by Finalize when nothing was captured. A call with
// zero audio produces no manifest at all, which is distinguishable from an
// empty-but-present one.
var ErrNoFrames = errors.New("no audio frames recorded")

// Role identifies which side of the call produced a frame.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Frame is one chunk of raw 8kHz mono mulaw audio with its arrival time.
type Frame struct {
	Role    Role
	At      time.Time
	Payload []byte
}

// Utterance is one role-contiguous run of frames in the finalized recording.
type Utterance struct {
	Role      Role      `json:"role"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Manifest describes the finalized recording artifact.
type Manifest struct {
	AudioFile  string      `json:"audio_file"`
	StartTime  time.Time   `json:"start_time"`
	EndTime    time.Time   `json:"end_time"`
	Utterances []Utterance `json:"utterances"`
}

// Recorder is an append-only per-call log of audio frames. Both pumps append
// concurrently; the recorder owns the frames until Finalize converts them
// into a Manifest.
type Recorder struct {
	mu        sync.Mutex
	dir       string
	streamSID string
	frames    []Frame
	start     time.Time
	finalized bool
}

// NewRecorder creates a recorder whose artifacts land under
// baseDir/<streamSID>/.
func NewRecorder(baseDir, streamSID string) *Recorder {
	return &Recorder{
		dir:       filepath.Join(baseDir, streamSID),
		streamSID: streamSID,
		start:     time.Now(),
	}
}

// Append records one frame. Appends after Finalize are dropped.
func (r *Recorder) Append(role Role, payload []byte) {
	if len(payload) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.frames = append(r.frames, Frame{
		Role:    role,
		At:      time.Now(),
		Payload: append([]byte(nil), payload...),
	})
}

// FrameCount reports how many frames are held, for logging and tests.
func (r *Recorder) FrameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Finalize sorts captured frames by arrival time, collapses them into
// role-contiguous utterances, writes one concatenated WAV plus the manifest,
// and releases the frames. The sort is defensive: the pumps append roughly
// in real order but interleave by role.
func (r *Recorder) Finalize() (*Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return nil, fmt.Errorf("recorder already finalized")
	}
	r.finalized = true
	if len(r.frames) == 0 {
		return nil, ErrNoFrames
	}

	sort.SliceStable(r.frames, func(i, j int) bool {
		return r.frames[i].At.Before(r.frames[j].At)
	})

	end := time.Now()
	var utterances []Utterance
	var pcm []byte
	currentRole := Role("")
	var currentStart time.Time
	for _, f := range r.frames {
		if f.Role != currentRole {
			if currentRole != "" {
				utterances = append(utterances, Utterance{
					Role:      currentRole,
					StartTime: currentStart,
					EndTime:   f.At,
				})
			}
			currentRole = f.Role
			currentStart = f.At
		}
		pcm = append(pcm, f.Payload...)
	}
	utterances = append(utterances, Utterance{
		Role:      currentRole,
		StartTime: currentStart,
		EndTime:   end,
	})

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}

	wavPath := filepath.Join(r.dir, "conversation.wav")
	if err := writeAtomic(wavPath, buildMulawWAV(pcm)); err != nil {
		return nil, fmt.Errorf("write audio artifact: %w", err)
	}

	manifest := &Manifest{
		AudioFile:  wavPath,
		StartTime:  r.start,
		EndTime:    end,
		Utterances: utterances,
	}
	mb, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	manifestPath := filepath.Join(r.dir, "recording_info.json")
	if err := writeAtomic(manifestPath, mb); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	logging.Infow("saved call recording",
		"stream_sid", r.streamSID, "path", wavPath,
		"utterances", len(utterances), "bytes", len(pcm))

	r.frames = nil
	return manifest, nil
}

// writeAtomic writes via a tmp file and rename so readers never observe a
// partial artifact.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
