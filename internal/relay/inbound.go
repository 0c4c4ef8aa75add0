package relay

import (
	"context"

	"github.com/voice-support-relay/internal/audio"
	"github.com/voice-support-relay/internal/logging"
)

// runInbound is the telephony -> AI backend pump. It consumes Media Streams
// frames until the stream stops or the connection drops. Malformed frames
// are logged and skipped; only transport errors end the loop.
func (r *Relay) runInbound(ctx context.Context) error {
	for {
		data, err := r.tel.Read()
		if err != nil {
			logging.Infow("telephony connection closed", "err", err,
				"stream_sid", r.sess.StreamSID())
			return nil
		}

		ev, perr := ParseTwilioEvent(data)
		if perr != nil {
			logging.Warnw("skipping malformed telephony frame", "err", perr)
			continue
		}

		switch ev.Kind {
		case TwilioStart:
			r.sess.Begin(ev.StreamSID)
			r.setRecorder(audio.NewRecorder(r.cfg.RecordingsDir, ev.StreamSID))
			logging.Infow("incoming stream started", logging.CallFields(ev.StreamSID)...)

		case TwilioMedia:
			r.sess.RecordMediaTimestamp(ev.Timestamp)
			if err := r.ai.Send(AudioAppendCommand(ev.Payload)); err != nil {
				logging.Infow("backend write failed, ending call", "err", err)
				return nil
			}
			if rec := r.recorder(); rec != nil {
				if raw, derr := DecodeAudioPayload(ev.Payload); derr != nil {
					logging.Debugw("skipping undecodable caller frame", "err", derr)
				} else {
					rec.Append(audio.RoleUser, raw)
				}
			}

		case TwilioMark:
			// Acks are consumed strictly FIFO by position regardless of the
			// mark's name.
			r.sess.PopMark()

		case TwilioStop:
			logging.Infow("stream stopped, finalizing call",
				logging.CallFields(r.sess.StreamSID())...)
			r.finalizeCall(ctx)
			return nil

		default:
			logging.Debugw("ignoring telephony event", "raw_len", len(data))
		}
	}
}

// finalizeCall closes the recorder and hands the session to the finalizer.
// Finalization failures are logged here and inside the finalizer (with the
// full transcript) but never abort the shutdown path.
func (r *Relay) finalizeCall(ctx context.Context) {
	var manifest *audio.Manifest
	if rec := r.recorder(); rec != nil {
		m, err := rec.Finalize()
		switch {
		case err == audio.ErrNoFrames:
			logging.Infow("no audio captured for call",
				logging.CallFields(r.sess.StreamSID())...)
		case err != nil:
			logging.Errorw("audio finalize failed", "err", err,
				"stream_sid", r.sess.StreamSID())
		default:
			manifest = m
		}
	}
	if r.cfg.Finalize == nil {
		return
	}
	if err := r.cfg.Finalize.Finalize(ctx, r.sess, manifest); err != nil {
		logging.Errorw("call finalization failed", "err", err,
			"stream_sid", r.sess.StreamSID())
	}
}
