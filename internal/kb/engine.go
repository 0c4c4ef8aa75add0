package kb

import (
	"context"
	"fmt"
	"strings"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/voice-support-relay/internal/logging"
)

const (
	// Matches at or above searchThreshold are reported as hits; only matches
	// at or above summaryThreshold are trusted enough to feed the summary.
	searchThreshold  = 0.3
	summaryThreshold = 0.5

	defaultMaxResults = 3
	summaryMaxTokens  = 150

	embeddingModel = openaigo.EmbeddingModelTextEmbedding3Small
	summaryModel   = "gpt-4-turbo-preview"
)

// ScoredArticle is a search hit with its similarity to the query.
type ScoredArticle struct {
	Article    Article
	Similarity float64
}

// Summarizer condenses matched articles into a short spoken-friendly answer.
// The OpenAI-backed implementation lives on Engine; tests substitute a fake.
type Summarizer func(ctx context.Context, query string, articles []ScoredArticle) (string, error)

// Engine answers knowledge-base queries: embed the query, rank stored
// articles by cosine similarity, and summarize the best matches.
type Engine struct {
	store     Store
	client    openaigo.Client
	embed     func(ctx context.Context, text string) ([]float64, error)
	summarize Summarizer
}

// NewEngine builds an engine over store using apiKey for embeddings and
// summaries.
func NewEngine(store Store, apiKey string) *Engine {
	e := &Engine{
		store:  store,
		client: openaigo.NewClient(option.WithAPIKey(apiKey)),
	}
	e.embed = e.embedWithAPI
	e.summarize = e.summarizeWithChat
	return e
}

// Embed returns the query embedding, length 1536.
func (e *Engine) Embed(ctx context.Context, text string) ([]float64, error) {
	return e.embed(ctx, text)
}

func (e *Engine) embedWithAPI(ctx context.Context, text string) ([]float64, error) {
	resp, err := e.client.Embeddings.New(ctx, openaigo.EmbeddingNewParams{
		Model: embeddingModel,
		Input: openaigo.EmbeddingNewParamsInputUnion{
			OfString: openaigo.String(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embed text: empty response")
	}
	return resp.Data[0].Embedding, nil
}

// IndexArticle embeds an article's title and content and upserts it into the
// store.
func (e *Engine) IndexArticle(ctx context.Context, art Article) error {
	text := art.Title + "\n\n" + art.Content
	emb, err := e.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("index article %s: %w", art.ID, err)
	}
	if err := e.store.SaveEmbedding(ctx, art, emb); err != nil {
		return err
	}
	logging.Debugw("indexed article", "article_id", art.ID, "title", art.Title)
	return nil
}

// Search ranks stored articles against the query and returns up to max hits
// above the search threshold, most similar first.
func (e *Engine) Search(ctx context.Context, query string, max int) ([]ScoredArticle, error) {
	if max <= 0 {
		max = defaultMaxResults
	}
	emb, err := e.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := e.store.FindSimilar(ctx, emb, max, searchThreshold)
	if err != nil {
		return nil, err
	}
	var hits []ScoredArticle
	for _, m := range matches {
		art, err := e.store.Metadata(ctx, m.ArticleID)
		if err != nil {
			logging.Warnw("article metadata load failed", "article_id", m.ArticleID, "err", err)
			continue
		}
		if art == nil {
			continue
		}
		hits = append(hits, ScoredArticle{Article: *art, Similarity: m.Similarity})
	}
	return hits, nil
}

// SearchAndSummarize runs Search and condenses the confident matches into a
// short answer. The empty string means nothing relevant was found.
func (e *Engine) SearchAndSummarize(ctx context.Context, query string) (string, error) {
	hits, err := e.Search(ctx, query, defaultMaxResults)
	if err != nil {
		return "", err
	}
	var confident []ScoredArticle
	for _, h := range hits {
		if h.Similarity >= summaryThreshold {
			confident = append(confident, h)
		}
	}
	if len(confident) == 0 {
		logging.Debugw("no confident knowledge base matches", "query_chars", len(query), "hits", len(hits))
		return "", nil
	}
	summary, err := e.summarize(ctx, query, confident)
	if err != nil {
		return "", fmt.Errorf("summarize articles: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

func (e *Engine) summarizeWithChat(ctx context.Context, query string, articles []ScoredArticle) (string, error) {
	var b strings.Builder
	for i, a := range articles {
		fmt.Fprintf(&b, "Article %d: %s\n%s\n\n", i+1, a.Article.Title, a.Article.Content)
	}
	resp, err := e.client.Chat.Completions.New(ctx, openaigo.ChatCompletionNewParams{
		Model: openaigo.ChatModel(summaryModel),
		Messages: []openaigo.ChatCompletionMessageParamUnion{
			openaigo.SystemMessage("You summarize helpdesk knowledge base articles for a voice assistant. " +
				"Answer the caller's question in at most three short spoken sentences using only the articles provided."),
			openaigo.UserMessage(fmt.Sprintf("Question: %s\n\n%s", query, b.String())),
		},
		MaxTokens:   openaigo.Int(summaryMaxTokens),
		Temperature: openaigo.Float(0.7),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}
