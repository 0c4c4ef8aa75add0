package ticket

import (
	"context"
	"fmt"
	"time"

	"github.com/voice-support-relay/internal/audio"
	"github.com/voice-support-relay/internal/logging"
	"github.com/voice-support-relay/internal/relay"
)

// Transcriber produces a full-call transcript from a recorded WAV file.
type Transcriber interface {
	TranscribeFile(ctx context.Context, path string) (string, error)
}

// Finalizer files a helpdesk ticket when a call ends. It implements
// relay.Finalizer.
type Finalizer struct {
	client             *Client
	classifier         *Classifier
	transcriber        Transcriber
	defaultRequesterID int
}

// NewFinalizer builds the end-of-call handoff. transcriber may be nil; the
// ticket then carries only the real-time transcript.
func NewFinalizer(client *Client, transcriber Transcriber, defaultRequesterID int) *Finalizer {
	return &Finalizer{
		client:             client,
		classifier:         NewClassifier(),
		transcriber:        transcriber,
		defaultRequesterID: defaultRequesterID,
	}
}

// Finalize builds and submits the ticket for a finished call. manifest may
// be nil when no audio was captured. A failed submission logs the full
// transcript so the conversation is never silently lost.
func (f *Finalizer) Finalize(ctx context.Context, sess *relay.CallSession, manifest *audio.Manifest) error {
	start := sess.CallStart()
	duration := int(time.Since(start).Seconds())

	contents := fmt.Sprintf("Call Duration: %d seconds\n\n", duration)
	contents += "=== Real-time Transcript ===\n"
	contents += sess.FormatTranscript()

	if manifest != nil && f.transcriber != nil {
		transcript, err := f.transcriber.TranscribeFile(ctx, manifest.AudioFile)
		if err != nil {
			logging.Warnw("post-call transcription failed", "err", err)
			contents += fmt.Sprintf("\n\nNote: Whisper transcription failed: %v", err)
		} else if transcript != "" {
			contents += "\n\n=== Full Call Transcription (Whisper) ===\n"
			contents += transcript
		}
	}

	cl := f.classifier.Classify(sess.PlainTranscript())

	requesterID, err := f.resolveRequester(ctx, sess.UserEmail())
	if err != nil {
		logging.Warnw("requester resolution failed, using default", "err", err)
		requesterID = f.defaultRequesterID
	}

	t := Ticket{
		Subject:     fmt.Sprintf("AI Call Assistant Conversation - %s", start.Format("2006-01-02 15:04:05")),
		Contents:    contents,
		TypeID:      cl.TypeID,
		PriorityID:  cl.PriorityID,
		RequesterID: requesterID,
	}

	ticketID, err := f.client.CreateTicket(ctx, t)
	if err != nil {
		logging.Errorw("ticket creation failed, dumping transcript",
			"err", err, "transcript", sess.PlainTranscript())
		return fmt.Errorf("create post-call ticket: %w", err)
	}

	logging.Infow("post-call ticket created",
		logging.TicketFields(ticketID, cl.PriorityID, cl.TypeID)...)
	return nil
}

// resolveRequester maps the caller's email to a helpdesk user, creating one
// when unknown. Falls back to the default requester when no email was
// collected during the call.
func (f *Finalizer) resolveRequester(ctx context.Context, email string) (int, error) {
	if email == "" {
		return f.defaultRequesterID, nil
	}
	user, err := f.client.GetUserByEmail(ctx, email)
	if err != nil {
		return 0, err
	}
	if user != nil {
		return user.ID, nil
	}
	id, err := f.client.CreateUser(ctx, User{Email: email, FullName: localPart(email)})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func localPart(email string) string {
	for i := 0; i < len(email); i++ {
		if email[i] == '@' {
			return email[:i]
		}
	}
	return email
}
