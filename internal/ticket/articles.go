package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/voice-support-relay/internal/logging"
)

// Article is a knowledge-base document fetched from the helpdesk.
type Article struct {
	ID       string
	Title    string
	Content  string
	Tags     []string
	Category string
}

// ListArticles fetches published knowledge-base articles. limit <= 0 means
// no cap. Articles whose content cannot be resolved are skipped, not fatal.
func (c *Client) ListArticles(ctx context.Context, limit int) ([]Article, error) {
	q := url.Values{"include": {"contents,titles,tags,section"}}
	if limit > 0 {
		q.Set("per_page", strconv.Itoa(limit))
	}
	body, err := c.doJSON(ctx, http.MethodGet, "/articles.json", q, nil)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	var resp struct {
		Data []struct {
			ID json.Number `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("list articles: decode response: %w", err)
	}

	var articles []Article
	for _, item := range resp.Data {
		art, err := c.getArticle(ctx, item.ID.String())
		if err != nil {
			logging.Warnw("article fetch failed", "article_id", item.ID.String(), "err", err)
			continue
		}
		articles = append(articles, art)
		if limit > 0 && len(articles) >= limit {
			break
		}
	}
	return articles, nil
}

func (c *Client) getArticle(ctx context.Context, id string) (Article, error) {
	q := url.Values{"include": {"contents,titles,tags,section"}}
	body, err := c.doJSON(ctx, http.MethodGet, "/articles/"+id+".json", q, nil)
	if err != nil {
		return Article{}, err
	}
	var resp struct {
		Data struct {
			ID     json.Number `json:"id"`
			Titles []struct {
				ID json.Number `json:"id"`
			} `json:"titles"`
			Contents []struct {
				ID json.Number `json:"id"`
			} `json:"contents"`
			Slugs []localeSlug `json:"slugs"`
			Tags  []struct {
				ID json.Number `json:"id"`
			} `json:"tags"`
			Section struct {
				Slugs []localeSlug `json:"slugs"`
			} `json:"section"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Article{}, fmt.Errorf("decode article %s: %w", id, err)
	}

	art := Article{ID: resp.Data.ID.String(), Category: "General"}

	if len(resp.Data.Titles) > 0 {
		art.Title, _ = c.localeField(ctx, resp.Data.Titles[0].ID.String())
	}
	if art.Title == "" {
		art.Title = slugTitle(resp.Data.Slugs)
	}
	if len(resp.Data.Contents) > 0 {
		art.Content, _ = c.localeField(ctx, resp.Data.Contents[0].ID.String())
	}
	if cat := slugTitle(resp.Data.Section.Slugs); cat != "" {
		art.Category = cat
	}
	for _, t := range resp.Data.Tags {
		art.Tags = append(art.Tags, t.ID.String())
	}
	return art, nil
}

// localeField resolves a locale-field id to its translated text.
func (c *Client) localeField(ctx context.Context, id string) (string, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/locale/fields/"+id+".json", nil, nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		Data struct {
			Translation string `json:"translation"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode locale field %s: %w", id, err)
	}
	return resp.Data.Translation, nil
}

type localeSlug struct {
	Locale      string `json:"locale"`
	Translation string `json:"translation"`
}

// slugTitle turns a URL slug into display text, preferring en-us.
func slugTitle(slugs []localeSlug) string {
	pick := ""
	for _, s := range slugs {
		if s.Locale == "en-us" {
			pick = s.Translation
			break
		}
	}
	if pick == "" && len(slugs) > 0 {
		pick = slugs[0].Translation
	}
	if pick == "" {
		return ""
	}
	words := strings.Split(pick, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
