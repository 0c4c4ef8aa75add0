// Command indexer pulls knowledge-base articles from the helpdesk and
// writes their embeddings into the vector store used at call time.
package main

import (
	"context"
	"os"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"github.com/voice-support-relay/internal/kb"
	"github.com/voice-support-relay/internal/logging"
	"github.com/voice-support-relay/internal/ticket"
)

type Options struct {
	OpenAIKey        string `long:"openai-api-key" env:"OPENAI_API_KEY" required:"true" description:"OpenAI API key"`
	DatabaseURL      string `long:"database-url" env:"DATABASE_URL" required:"true" description:"Postgres DSN for embeddings"`
	HelpdeskURL      string `long:"helpdesk-url" env:"KAYAKO_API_URL" required:"true" description:"helpdesk API base URL"`
	HelpdeskEmail    string `long:"helpdesk-email" env:"KAYAKO_EMAIL" required:"true" description:"helpdesk agent email"`
	HelpdeskPassword string `long:"helpdesk-password" env:"KAYAKO_PASSWORD" required:"true" description:"helpdesk agent password"`
	Limit            int    `long:"limit" env:"INDEX_LIMIT" default:"0" description:"max articles to index, 0 for all"`
}

func main() {
	_ = godotenv.Load()

	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	logging.Init()
	defer func() { _ = logging.Sync() }()

	ctx := context.Background()

	store, err := kb.NewPgStore(ctx, opts.DatabaseURL)
	if err != nil {
		logging.Fatalw("embedding store unavailable", "err", err)
	}
	defer store.Close()
	engine := kb.NewEngine(store, opts.OpenAIKey)

	client := ticket.NewClient(opts.HelpdeskURL, opts.HelpdeskEmail, opts.HelpdeskPassword)

	logging.Infow("fetching articles")
	articles, err := client.ListArticles(ctx, opts.Limit)
	if err != nil {
		logging.Fatalw("article listing failed", "err", err)
	}
	logging.Infow("indexing articles", "count", len(articles))

	indexed := 0
	for _, a := range articles {
		art := kb.Article{
			ID:       a.ID,
			Title:    a.Title,
			Content:  a.Content,
			Tags:     a.Tags,
			Category: a.Category,
		}
		if err := engine.IndexArticle(ctx, art); err != nil {
			logging.Warnw("article indexing failed", "article_id", a.ID, "err", err)
			continue
		}
		indexed++
	}
	logging.Infow("indexing complete", "indexed", indexed, "total", len(articles))
}
