// Package relay implements the call-session core: the two concurrent pumps
// between a Twilio Media Streams leg and the OpenAI Realtime API, the
// barge-in protocol, the per-call audio capture, and tool-call dispatch.
package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/voice-support-relay/internal/audio"
	"github.com/voice-support-relay/internal/logging"
)

// Conn is the subset of *websocket.Conn the pumps need. Tests provide
// in-memory implementations.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// peer wraps a Conn with a write mutex. Reads stay single-goroutine (one
// pump owns each read side) but the AI leg is written to by both pumps, and
// websocket connections do not allow concurrent writers.
type peer struct {
	conn Conn
	wmu  sync.Mutex
}

func (p *peer) Send(v interface{}) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return p.conn.WriteJSON(v)
}

func (p *peer) Read() ([]byte, error) {
	_, data, err := p.conn.ReadMessage()
	return data, err
}

func (p *peer) Close() error { return p.conn.Close() }

// ToolInvoker answers AI-issued function calls. Implementations must never
// panic outward; failures come back as a structured JSON error payload.
type ToolInvoker interface {
	Invoke(ctx context.Context, name, callID string, args json.RawMessage, sess *CallSession) string
}

// Finalizer receives the finished session and recording manifest when the
// stream stops. The manifest is nil when no audio was captured.
type Finalizer interface {
	Finalize(ctx context.Context, sess *CallSession, manifest *audio.Manifest) error
}

// Config wires one Relay. Tools and Finalize are injected by the caller;
// there are no package-level collaborator singletons.
type Config struct {
	RecordingsDir string
	Session       SessionConfig
	Greeting      string
	Tools         ToolInvoker
	Finalize      Finalizer
}

// Relay owns one call: both pump loops, their shared session, and the
// lifecycle coupling between the two connections.
type Relay struct {
	cfg  Config
	sess *CallSession
	tel  *peer
	ai   *peer

	interrupt *Interrupter

	recMu sync.Mutex
	rec   *audio.Recorder
}

// New builds a Relay over an accepted telephony connection and a dialed
// AI-backend connection.
func New(cfg Config, telephony, backend Conn) *Relay {
	r := &Relay{
		cfg:  cfg,
		sess: NewCallSession(),
		tel:  &peer{conn: telephony},
		ai:   &peer{conn: backend},
	}
	r.interrupt = NewInterrupter(r.sess, r.tel, r.ai)
	return r
}

// Session exposes the call session, mainly for tests and the finalizer.
func (r *Relay) Session() *CallSession { return r.sess }

func (r *Relay) setRecorder(rec *audio.Recorder) {
	r.recMu.Lock()
	defer r.recMu.Unlock()
	r.rec = rec
}

func (r *Relay) recorder() *audio.Recorder {
	r.recMu.Lock()
	defer r.recMu.Unlock()
	return r.rec
}

// Run configures the realtime session, starts both pumps, and blocks until
// the call ends. The pumps are lifecycle-coupled: whichever exits first
// (stop event, disconnect, or fault) closes both connections, which
// unblocks the other pump's read. No timeouts are imposed here; liveness
// belongs to the transports.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.bootstrap(); err != nil {
		r.closeBoth()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- r.runInbound(ctx) }()
	go func() { errCh <- r.runOutbound(ctx) }()

	first := <-errCh
	cancel()
	r.closeBoth()
	<-errCh

	return first
}

// bootstrap sends the session configuration and seeds the conversation so
// the assistant greets the caller without waiting for speech.
func (r *Relay) bootstrap() error {
	if err := r.ai.Send(SessionUpdateCommand(r.cfg.Session)); err != nil {
		return err
	}
	if r.cfg.Greeting == "" {
		return nil
	}
	if err := r.ai.Send(GreetingItemCommand(r.cfg.Greeting)); err != nil {
		return err
	}
	return r.ai.Send(ResponseCreateCommand())
}

func (r *Relay) closeBoth() {
	if err := r.tel.Close(); err != nil {
		logging.Debugw("closing telephony connection", "err", err)
	}
	if err := r.ai.Close(); err != nil {
		logging.Debugw("closing backend connection", "err", err)
	}
}
