package kb

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	saved    map[string][]float64
	articles map[string]Article
	matches  []Match
	findErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		saved:    map[string][]float64{},
		articles: map[string]Article{},
	}
}

func (f *fakeStore) SaveEmbedding(ctx context.Context, art Article, embedding []float64) error {
	f.saved[art.ID] = embedding
	f.articles[art.ID] = art
	return nil
}

func (f *fakeStore) FindSimilar(ctx context.Context, embedding []float64, limit int, threshold float64) ([]Match, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []Match
	for _, m := range f.matches {
		if m.Similarity >= threshold && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) Metadata(ctx context.Context, articleID string) (*Article, error) {
	if art, ok := f.articles[articleID]; ok {
		return &art, nil
	}
	return nil, nil
}

func testEngine(store Store) *Engine {
	e := &Engine{store: store}
	e.embed = func(ctx context.Context, text string) ([]float64, error) {
		return []float64{0.1, 0.2, 0.3}, nil
	}
	e.summarize = func(ctx context.Context, query string, articles []ScoredArticle) (string, error) {
		titles := make([]string, len(articles))
		for i, a := range articles {
			titles[i] = a.Article.Title
		}
		return "summary of " + strings.Join(titles, ", "), nil
	}
	return e
}

func TestSearchFiltersByThreshold(t *testing.T) {
	store := newFakeStore()
	store.articles["a1"] = Article{ID: "a1", Title: "Password resets"}
	store.articles["a2"] = Article{ID: "a2", Title: "Billing cycles"}
	store.matches = []Match{
		{ArticleID: "a1", Similarity: 0.9},
		{ArticleID: "a2", Similarity: 0.35},
		{ArticleID: "a3", Similarity: 0.2}, // below search threshold
	}

	hits, err := testEngine(store).Search(context.Background(), "reset my password", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a1", hits[0].Article.ID)
	assert.Equal(t, 0.9, hits[0].Similarity)
}

func TestSearchSkipsMissingMetadata(t *testing.T) {
	store := newFakeStore()
	store.articles["a1"] = Article{ID: "a1", Title: "Known"}
	store.matches = []Match{
		{ArticleID: "a1", Similarity: 0.8},
		{ArticleID: "orphan", Similarity: 0.7},
	}

	hits, err := testEngine(store).Search(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a1", hits[0].Article.ID)
}

func TestSearchAndSummarize(t *testing.T) {
	store := newFakeStore()
	store.articles["a1"] = Article{ID: "a1", Title: "Password resets"}
	store.articles["a2"] = Article{ID: "a2", Title: "Weak match"}
	store.matches = []Match{
		{ArticleID: "a1", Similarity: 0.9},
		{ArticleID: "a2", Similarity: 0.4}, // found, but below the summary cutoff
	}

	summary, err := testEngine(store).SearchAndSummarize(context.Background(), "reset my password")
	require.NoError(t, err)
	assert.Equal(t, "summary of Password resets", summary)
}

func TestSearchAndSummarizeNoConfidentMatches(t *testing.T) {
	store := newFakeStore()
	store.articles["a1"] = Article{ID: "a1", Title: "Weak"}
	store.matches = []Match{{ArticleID: "a1", Similarity: 0.4}}

	summary, err := testEngine(store).SearchAndSummarize(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, summary, "weak matches alone must not produce a summary")
}

func TestSearchAndSummarizePropagatesStoreErrors(t *testing.T) {
	store := newFakeStore()
	store.findErr = errors.New("connection refused")

	_, err := testEngine(store).SearchAndSummarize(context.Background(), "q")
	require.Error(t, err)
}

func TestIndexArticleEmbedsTitleAndContent(t *testing.T) {
	store := newFakeStore()
	e := testEngine(store)
	var embedded string
	e.embed = func(ctx context.Context, text string) ([]float64, error) {
		embedded = text
		return []float64{1}, nil
	}

	art := Article{ID: "a9", Title: "VPN setup", Content: "Install the client."}
	require.NoError(t, e.IndexArticle(context.Background(), art))
	assert.Equal(t, "VPN setup\n\nInstall the client.", embedded)
	assert.Contains(t, store.saved, "a9")
	assert.Equal(t, art, store.articles["a9"])
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[0.5,-1,2.25]", vectorLiteral([]float64{0.5, -1, 2.25}))
	assert.Equal(t, "[]", vectorLiteral(nil))
}
