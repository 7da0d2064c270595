// Package news fetches top headlines from NewsAPI.
package news

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/donnahq/donna/internal/assistant"
)

const (
	defaultBaseURL = "https://newsapi.org/v2"
	defaultLimit   = 5
	maxLimit       = 20
)

var ErrNoAPIKey = errors.New("news API key not configured")

// topicCategories maps loose topic words onto NewsAPI categories. Unknown
// topics fall back to a keyword search.
var topicCategories = map[string]string{
	"business":      "business",
	"stocks":        "business",
	"technology":    "technology",
	"tech":          "technology",
	"sports":        "sports",
	"entertainment": "entertainment",
	"health":        "health",
	"science":       "science",
	"general":       "general",
}

// Client implements the assistant's NewsFeed interface.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func New(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *Client) TopHeadlines(ctx context.Context, topic string, limit int) ([]assistant.NewsArticle, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(limit))
	endpoint := c.baseURL + "/top-headlines"
	if category, ok := topicCategories[strings.ToLower(topic)]; ok || topic == "" {
		q.Set("country", "us")
		if category != "" && category != "general" {
			q.Set("category", category)
		}
	} else {
		// Off-category topics go through keyword search.
		endpoint = c.baseURL + "/everything"
		q.Set("q", topic)
		q.Set("sortBy", "publishedAt")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch headlines: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read headlines response: %w", err)
	}

	parsed := gjson.ParseBytes(body)
	if status := parsed.Get("status").String(); status != "ok" {
		return nil, fmt.Errorf("news API error: %s", parsed.Get("message").String())
	}

	var articles []assistant.NewsArticle
	parsed.Get("articles").ForEach(func(_, a gjson.Result) bool {
		articles = append(articles, assistant.NewsArticle{
			Title:       a.Get("title").String(),
			Description: a.Get("description").String(),
			Source:      a.Get("source.name").String(),
			URL:         a.Get("url").String(),
			PublishedAt: a.Get("publishedAt").String(),
		})
		return len(articles) < limit
	})
	return articles, nil
}
