package assistant

import (
	"context"
	"time"

	"github.com/donnahq/donna/internal/schedule"
)

// Calendar is the calendar collaborator the assistant drives. Implemented
// by internal/google; faked in tests.
type Calendar interface {
	ListEvents(ctx context.Context, start, end time.Time) ([]schedule.Event, error)
	CreateEvent(ctx context.Context, ev schedule.Event) (schedule.Event, error)
	DeleteEvent(ctx context.Context, id string) error
	FreeBusy(ctx context.Context, start, end time.Time) ([]schedule.TimeSlot, error)
}

// Mail is the email collaborator.
type Mail interface {
	SearchEmails(ctx context.Context, query string, max int64) ([]Email, error)
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Email is a message summary as the mail search returns it.
type Email struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
	Snippet string `json:"snippet"`
}

// RedditFeed fetches subreddit listings.
type RedditFeed interface {
	GetPosts(ctx context.Context, subreddit string, limit int) ([]RedditPost, error)
}

type RedditPost struct {
	Title     string  `json:"title"`
	Author    string  `json:"author"`
	Score     int64   `json:"score"`
	Comments  int64   `json:"num_comments"`
	Permalink string  `json:"permalink"`
	CreatedAt float64 `json:"created_utc"`
}

// NewsFeed fetches news headlines.
type NewsFeed interface {
	TopHeadlines(ctx context.Context, topic string, limit int) ([]NewsArticle, error)
}

type NewsArticle struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Source      string `json:"source"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
}
