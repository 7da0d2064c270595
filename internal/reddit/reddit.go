// Package reddit is a minimal Reddit API client for reading hot posts from a
// subreddit. Script-type OAuth: client credentials plus the account's
// username and password exchanged for a bearer token, refreshed when it
// expires.
package reddit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/donnahq/donna/internal/assistant"
	"github.com/donnahq/donna/internal/config"
)

const (
	defaultTokenURL = "https://www.reddit.com/api/v1/access_token"
	defaultAPIURL   = "https://oauth.reddit.com"
	defaultLimit    = 5
	maxLimit        = 25
)

var ErrNoCredentials = errors.New("reddit credentials not configured")

// Client implements the assistant's RedditFeed interface.
type Client struct {
	cfg  config.RedditConfig
	http *http.Client

	tokenURL string
	apiURL   string

	mu      sync.Mutex
	token   string
	expires time.Time
}

func New(cfg config.RedditConfig) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrNoCredentials
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "donna/1.0"
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: 15 * time.Second},
		tokenURL: defaultTokenURL,
		apiURL:   defaultAPIURL,
	}, nil
}

func (c *Client) GetPosts(ctx context.Context, subreddit string, limit int) ([]assistant.RedditPost, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/r/%s/hot?limit=%d&raw_json=1", c.apiURL, url.PathEscape(subreddit), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch r/%s: %w", subreddit, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read r/%s response: %w", subreddit, err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch r/%s: unexpected status %s", subreddit, res.Status)
	}

	var posts []assistant.RedditPost
	gjson.GetBytes(body, "data.children").ForEach(func(_, child gjson.Result) bool {
		d := child.Get("data")
		posts = append(posts, assistant.RedditPost{
			Title:     d.Get("title").String(),
			Author:    d.Get("author").String(),
			Score:     d.Get("score").Int(),
			Comments:  d.Get("num_comments").Int(),
			Permalink: "https://www.reddit.com" + d.Get("permalink").String(),
			CreatedAt: d.Get("created_utc").Float(),
		})
		return len(posts) < limit
	})
	return posts, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.expires) {
		return c.token, nil
	}

	form := url.Values{}
	if c.cfg.Username != "" && c.cfg.Password != "" {
		form.Set("grant_type", "password")
		form.Set("username", c.cfg.Username)
		form.Set("password", c.cfg.Password)
	} else {
		form.Set("grant_type", "client_credentials")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("reddit token request: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reddit token request: unexpected status %s", res.Status)
	}

	token := gjson.GetBytes(body, "access_token").String()
	if token == "" {
		return "", fmt.Errorf("reddit token response missing access_token: %s", gjson.GetBytes(body, "error").String())
	}
	ttl := gjson.GetBytes(body, "expires_in").Int()
	if ttl <= 0 {
		ttl = 3600
	}
	c.token = token
	c.expires = time.Now().Add(time.Duration(ttl)*time.Second - time.Minute)
	return c.token, nil
}
