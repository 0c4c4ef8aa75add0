package relay

import (
	"github.com/voice-support-relay/internal/logging"
)

// CommandSink sends one JSON command to a peer connection. Both websocket
// legs satisfy it; tests substitute in-memory recorders.
type CommandSink interface {
	Send(v interface{}) error
}

// Interrupter implements the barge-in protocol. It has two logical states,
// derived from the session rather than stored: idle (no response in flight)
// and speaking (response in flight).
type Interrupter struct {
	sess *CallSession
	tel  CommandSink
	ai   CommandSink
}

func NewInterrupter(sess *CallSession, tel, ai CommandSink) *Interrupter {
	return &Interrupter{sess: sess, tel: tel, ai: ai}
}

// OnSpeechStarted handles a caller speech-started signal while assistant
// audio may be playing. Elapsed playback is computed on the telephony clock
// for both operands; mixing in wall-clock time here produces audible
// truncation errors.
func (i *Interrupter) OnSpeechStarted() {
	itemID := i.sess.LastAssistantItem()
	if itemID == "" {
		return
	}
	anchor, ok := i.sess.ResponseAnchor()
	if !ok {
		// Race: the response finished between the delta and the speech
		// signal. Not an error, nothing to truncate.
		logging.Debugw("barge-in without response anchor, skipping",
			logging.ItemFields(itemID)...)
		return
	}
	elapsed := i.sess.LatestMediaTimestamp() - anchor
	if elapsed < 0 {
		logging.Debugw("barge-in with negative elapsed, skipping",
			"elapsed_ms", elapsed, "item_id", itemID)
		return
	}

	logging.Infow("caller barge-in, truncating response",
		"item_id", itemID, "audio_end_ms", elapsed)
	if err := i.ai.Send(TruncateCommand(itemID, elapsed)); err != nil {
		logging.Warnw("failed to send truncate", "err", err, "item_id", itemID)
	}
	if err := i.tel.Send(ClearCommand(i.sess.StreamSID())); err != nil {
		logging.Warnw("failed to send clear", "err", err,
			"stream_sid", i.sess.StreamSID())
	}

	i.sess.ClearMarks()
	i.sess.ClearResponseState()
}
