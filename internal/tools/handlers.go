package tools

import (
	"context"
	"fmt"

	"github.com/voice-support-relay/internal/logging"
	"github.com/voice-support-relay/internal/relay"
)

// KnowledgeBase is the search collaborator contract consumed by the
// knowledge-base tool. An empty summary means nothing relevant was found.
type KnowledgeBase interface {
	SearchAndSummarize(ctx context.Context, query string) (string, error)
}

const noArticlesFound = "No relevant information found in the knowledge base."

// NewDefaultDispatcher builds a dispatcher with the assistant's built-in
// tools registered. kb may be nil when no knowledge base is configured; the
// search tool then reports no results rather than failing the call.
func NewDefaultDispatcher(kb KnowledgeBase) *Dispatcher {
	d := NewDispatcher()
	d.Register("search_knowledge_base", searchKnowledgeBase(kb))
	d.Register("save_user_email", saveUserEmail)
	d.Register("set_reason_for_calling", setReasonForCalling)
	return d
}

func searchKnowledgeBase(kb KnowledgeBase) Handler {
	return func(ctx context.Context, args map[string]interface{}, sess *relay.CallSession) (interface{}, error) {
		query := stringArg(args, "query")
		if query == "" {
			return nil, fmt.Errorf("missing query")
		}
		if kb == nil {
			return map[string]string{"result": noArticlesFound}, nil
		}
		summary, err := kb.SearchAndSummarize(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("knowledge base search: %w", err)
		}
		if summary == "" {
			summary = noArticlesFound
		}
		return map[string]string{"result": summary}, nil
	}
}

func saveUserEmail(ctx context.Context, args map[string]interface{}, sess *relay.CallSession) (interface{}, error) {
	if email := stringArg(args, "email"); email != "" {
		sess.SetUserEmail(email)
		logging.Infow("saved caller email")
	}
	return map[string]string{"result": "Email saved successfully."}, nil
}

func setReasonForCalling(ctx context.Context, args map[string]interface{}, sess *relay.CallSession) (interface{}, error) {
	if reason := stringArg(args, "reason"); reason != "" {
		sess.SetReason(reason)
		logging.Infow("saved reason for calling", "chars", len(reason))
	}
	return map[string]string{"result": "Reason for calling saved successfully."}, nil
}
