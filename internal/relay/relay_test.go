package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voice-support-relay/internal/audio"
)

// fakeConn is an in-memory Conn. Reads consume a pre-loaded frame queue;
// writes are recorded. Closing unblocks pending reads.
type fakeConn struct {
	in chan []byte

	mu     sync.Mutex
	writes []interface{}
	closed bool
}

func newFakeConn(frames ...string) *fakeConn {
	c := &fakeConn{in: make(chan []byte, len(frames)+1)}
	for _, f := range frames {
		c.in <- []byte(f)
	}
	return c
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	b, ok := <-c.in
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return 1, b, nil
}

// WriteJSON records regardless of close state so tests can pre-close the
// read side to bound the frame queue without losing writes.
func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.in)
	}
	return nil
}

// drainAfter closes the read side once the queued frames are consumed, by
// closing immediately: buffered frames are still delivered before the
// closed-channel error.
func (c *fakeConn) drainAfter() { _ = c.Close() }

func (c *fakeConn) typesWritten(t *testing.T, key string) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, w := range c.writes {
		b, err := json.Marshal(w)
		if err != nil {
			t.Fatalf("marshal written command: %v", err)
		}
		var m map[string]interface{}
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("unmarshal written command: %v", err)
		}
		if s, ok := m[key].(string); ok {
			out = append(out, s)
		}
	}
	return out
}

type fakeInvoker struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeInvoker) Invoke(ctx context.Context, name, callID string, args json.RawMessage, sess *CallSession) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return `{"ok":true}`
}

type fakeFinalizer struct {
	mu       sync.Mutex
	called   bool
	manifest *audio.Manifest
}

func (f *fakeFinalizer) Finalize(ctx context.Context, sess *CallSession, manifest *audio.Manifest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = true
	f.manifest = manifest
	return nil
}

func runRelay(t *testing.T, cfg Config, tel, ai *fakeConn) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- New(cfg, tel, ai).Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("relay run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("relay did not terminate")
	}
}

func TestRunBootstrapsSession(t *testing.T) {
	tel := newFakeConn(`{"event":"stop"}`)
	ai := newFakeConn()
	fin := &fakeFinalizer{}

	cfg := Config{
		RecordingsDir: t.TempDir(),
		Session:       SessionConfig{Voice: "alloy", Instructions: "hi"},
		Greeting:      "say hello",
		Finalize:      fin,
	}
	runRelay(t, cfg, tel, ai)

	types := ai.typesWritten(t, "type")
	if len(types) < 3 {
		t.Fatalf("backend writes = %v, want session.update + item.create + response.create", types)
	}
	if types[0] != "session.update" || types[1] != "conversation.item.create" || types[2] != "response.create" {
		t.Fatalf("bootstrap order = %v", types[:3])
	}
	if !fin.called {
		t.Fatalf("finalizer not invoked on stop")
	}
	if fin.manifest != nil {
		t.Fatalf("manifest for call with no audio should be nil")
	}
}

func TestRunForwardsCallerAudio(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte{0x7f, 0x7f, 0x7f})
	tel := newFakeConn(
		`{"event":"start","start":{"streamSid":"MZ77"}}`,
		`{"event":"media","media":{"timestamp":20,"payload":"`+payload+`"}}`,
		`{"event":"stop"}`,
	)
	ai := newFakeConn()
	fin := &fakeFinalizer{}

	cfg := Config{RecordingsDir: t.TempDir(), Finalize: fin}
	runRelay(t, cfg, tel, ai)

	types := ai.typesWritten(t, "type")
	found := false
	for _, ty := range types {
		if ty == "input_audio_buffer.append" {
			found = true
		}
	}
	if !found {
		t.Fatalf("caller audio never forwarded, backend writes %v", types)
	}
	if fin.manifest == nil {
		t.Fatalf("call with audio should produce a manifest")
	}
	if len(fin.manifest.Utterances) != 1 || fin.manifest.Utterances[0].Role != audio.RoleUser {
		t.Fatalf("manifest utterances = %+v", fin.manifest.Utterances)
	}
}

func TestRunSkipsMalformedTelephonyFrames(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte{0x01})
	tel := newFakeConn(
		`{"event":"start","start":{"streamSid":"MZ1"}}`,
		`this is not json`,
		`{"event":"media"}`,
		`{"event":"media","media":{"timestamp":40,"payload":"`+payload+`"}}`,
		`{"event":"stop"}`,
	)
	ai := newFakeConn()
	fin := &fakeFinalizer{}

	runRelay(t, Config{RecordingsDir: t.TempDir(), Finalize: fin}, tel, ai)

	appends := 0
	for _, ty := range ai.typesWritten(t, "type") {
		if ty == "input_audio_buffer.append" {
			appends++
		}
	}
	if appends != 1 {
		t.Fatalf("append count = %d, want 1 (malformed frames skipped, valid one kept)", appends)
	}
	if !fin.called {
		t.Fatalf("finalizer not reached past malformed frames")
	}
}

func TestFunctionCallBatchGetsOneResponseCreate(t *testing.T) {
	delta := base64.StdEncoding.EncodeToString([]byte{0x55})
	ai := newFakeConn(
		`{"type":"response.audio.delta","delta":"`+delta+`","item_id":"item_1"}`,
		`{"type":"response.done","response":{"output":[
			{"type":"function_call","name":"save_user_email","call_id":"c1","arguments":"{\"email\":\"a@b.com\"}"},
			{"type":"function_call","name":"set_reason_for_calling","call_id":"c2","arguments":"{\"reason\":\"billing\"}"}
		]}}`,
	)
	ai.drainAfter()
	tel := newFakeConn()
	inv := &fakeInvoker{}

	// No greeting: the only response.create must come from the tool batch.
	runRelay(t, Config{RecordingsDir: t.TempDir(), Tools: inv}, tel, ai)

	if len(inv.calls) != 2 {
		t.Fatalf("tool invocations = %v, want 2", inv.calls)
	}
	outputs, creates := 0, 0
	for _, ty := range ai.typesWritten(t, "type") {
		switch ty {
		case "conversation.item.create":
			outputs++
		case "response.create":
			creates++
		}
	}
	if outputs != 2 {
		t.Fatalf("function outputs sent = %d, want 2", outputs)
	}
	if creates != 1 {
		t.Fatalf("response.create sent %d times, want exactly 1 per batch", creates)
	}

	// The delta was relayed to the caller.
	events := tel.typesWritten(t, "event")
	if len(events) < 2 || events[0] != "media" || events[1] != "mark" {
		t.Fatalf("telephony writes = %v, want media then mark", events)
	}
}

func TestTranscriptionEventsBuildTranscript(t *testing.T) {
	ai := newFakeConn(
		`{"type":"conversation.item.input_audio_transcription.completed","transcript":"my account is locked"}`,
		`{"type":"response.done","response":{"output":[
			{"type":"message","role":"assistant","content":[{"type":"audio","transcript":"Let me look into that."}]}
		]}}`,
	)
	ai.drainAfter()
	tel := newFakeConn()

	r := New(Config{RecordingsDir: t.TempDir()}, tel, ai)
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("relay did not terminate")
	}

	msgs := r.Session().Transcript()
	if len(msgs) != 2 {
		t.Fatalf("transcript = %+v, want 2 messages", msgs)
	}
	if msgs[0].Role != "user" || msgs[0].Content != "my account is locked" {
		t.Fatalf("first message = %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "Let me look into that." {
		t.Fatalf("second message = %+v", msgs[1])
	}
}
