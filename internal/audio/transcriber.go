package audio

import (
	"context"
	"fmt"
	"os"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/voice-support-relay/internal/logging"
)

// Transcriber runs a finished recording through the Whisper API. It is a
// post-call collaborator; nothing on the live relay path waits for it.
type Transcriber struct {
	client openaigo.Client
	model  openaigo.AudioModel
}

func NewTranscriber(apiKey string) *Transcriber {
	return &Transcriber{
		client: openaigo.NewClient(option.WithAPIKey(apiKey)),
		model:  openaigo.AudioModelWhisper1,
	}
}

// TranscribeFile transcribes one complete audio artifact.
func (t *Transcriber) TranscribeFile(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	resp, err := t.client.Audio.Transcriptions.New(ctx, openaigo.AudioTranscriptionNewParams{
		Model:    t.model,
		File:     openaigo.File(f, "conversation.wav", "audio/wav"),
		Language: openaigo.String("en"),
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}
	logging.Infow("whisper transcription complete", "path", audioPath, "chars", len(resp.Text))
	return resp.Text, nil
}
