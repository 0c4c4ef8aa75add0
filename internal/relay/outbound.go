package relay

import (
	"context"
	"encoding/json"

	"github.com/voice-support-relay/internal/audio"
	"github.com/voice-support-relay/internal/logging"
)

// markLabel is the fixed name attached to playback marks. Acks are popped
// by queue position, so the name only needs to be stable, not unique.
const markLabel = "responsePart"

// runOutbound is the AI backend -> telephony pump. It consumes realtime
// events until the backend connection drops or the peer pump cancels the
// call. A single malformed event is skipped; a transport error ends the loop.
func (r *Relay) runOutbound(ctx context.Context) error {
	for {
		data, err := r.ai.Read()
		if err != nil {
			logging.Infow("backend connection closed", "err", err,
				"stream_sid", r.sess.StreamSID())
			return nil
		}

		ev, perr := ParseRealtimeEvent(data)
		if perr != nil {
			logging.Warnw("skipping malformed backend frame", "err", perr)
			continue
		}

		switch ev.Kind {
		case RealtimeAudioDelta:
			r.handleAudioDelta(ev)

		case RealtimeSpeechStarted:
			if r.sess.LastAssistantItem() != "" {
				r.interrupt.OnSpeechStarted()
			}

		case RealtimeResponseDone:
			r.handleResponseDone(ctx, ev)

		case RealtimeTranscriptionCompleted:
			r.sess.AddUserMessage(ev.Transcript)

		case RealtimeError:
			logging.Warnw("backend reported error", "message", ev.ErrMessage)

		default:
			logging.Debugw("backend event", "type", ev.Type)
		}
	}
}

// handleAudioDelta relays one chunk of assistant audio to the caller. The
// first delta of a response anchors the response start to the inbound
// telephony clock so truncation math later subtracts like from like.
func (r *Relay) handleAudioDelta(ev RealtimeEvent) {
	if rec := r.recorder(); rec != nil {
		if raw, derr := DecodeAudioPayload(ev.Delta); derr != nil {
			logging.Debugw("skipping undecodable assistant frame", "err", derr)
		} else {
			rec.Append(audio.RoleAssistant, raw)
		}
	}

	sid := r.sess.StreamSID()
	if err := r.tel.Send(MediaCommand(sid, ev.Delta)); err != nil {
		logging.Debugw("telephony write failed", "err", err)
		return
	}

	r.sess.BeginResponse(r.sess.LatestMediaTimestamp(), ev.ItemID)

	if err := r.tel.Send(MarkCommand(sid, markLabel)); err != nil {
		logging.Debugw("mark write failed", "err", err)
		return
	}
	r.sess.PushMark(markLabel)
}

// handleResponseDone resolves any function calls in the completed response,
// then records the assistant's finalized transcript. All tool results of one
// batch are sent before exactly one response.create; the backend must not be
// nudged once per call.
func (r *Relay) handleResponseDone(ctx context.Context, ev RealtimeEvent) {
	calls := ev.FunctionCalls()
	for _, call := range calls {
		output := r.invokeTool(ctx, call)
		if err := r.ai.Send(FunctionOutputCommand(call.CallID, output)); err != nil {
			logging.Warnw("failed to send tool output", "err", err,
				"call_id", call.CallID, "tool", call.Name)
		}
	}
	if len(calls) > 0 {
		if err := r.ai.Send(ResponseCreateCommand()); err != nil {
			logging.Warnw("failed to request next response", "err", err)
		}
	}

	if text, ok := ev.AssistantTranscript(); ok {
		r.sess.AddAssistantMessage(text)
		logging.Debugw("assistant message finalized", "chars", len(text))
	}
}

// invokeTool runs one function call through the dispatcher. The dispatcher
// converts failures into structured error payloads, so the returned string
// is always a JSON document safe to hand back to the backend. Dispatch
// blocks this pump; the conversation waits for its tool result while caller
// audio keeps flowing on the inbound pump.
func (r *Relay) invokeTool(ctx context.Context, call OutputItem) string {
	logging.Infow("dispatching tool call", "tool", call.Name, "call_id", call.CallID)
	if r.cfg.Tools == nil {
		return `{"error": "no tool dispatcher configured"}`
	}
	return r.cfg.Tools.Invoke(ctx, call.Name, call.CallID, json.RawMessage(call.Arguments), r.sess)
}
