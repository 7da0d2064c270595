package google

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/donnahq/donna/internal/assistant"
)

const gmailUser = "me"

// GmailClient implements the assistant's Mail interface on the Gmail API.
type GmailClient struct {
	svc *gmail.Service
}

func NewGmail(ctx context.Context, dir string) (*GmailClient, error) {
	src, err := tokenSource(ctx, dir)
	if err != nil {
		return nil, err
	}
	svc, err := gmail.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	return &GmailClient{svc: svc}, nil
}

func (g *GmailClient) SearchEmails(ctx context.Context, query string, max int64) ([]assistant.Email, error) {
	if max <= 0 {
		max = 20
	}
	list, err := g.svc.Users.Messages.List(gmailUser).Q(query).MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	emails := make([]assistant.Email, 0, len(list.Messages))
	for _, m := range list.Messages {
		msg, err := g.svc.Users.Messages.Get(gmailUser, m.Id).
			Format("metadata").
			MetadataHeaders("From", "Subject", "Date").
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("get message %s: %w", m.Id, err)
		}

		email := assistant.Email{ID: m.Id, Snippet: msg.Snippet}
		if msg.Payload != nil {
			for _, h := range msg.Payload.Headers {
				switch h.Name {
				case "From":
					email.From = h.Value
				case "Subject":
					email.Subject = h.Value
				case "Date":
					email.Date = h.Value
				}
			}
		}
		emails = append(emails, email)
	}
	return emails, nil
}

func (g *GmailClient) SendEmail(ctx context.Context, to, subject, body string) error {
	var raw strings.Builder
	fmt.Fprintf(&raw, "To: %s\r\n", to)
	fmt.Fprintf(&raw, "Subject: %s\r\n", subject)
	raw.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	raw.WriteString("\r\n")
	raw.WriteString(body)

	msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString([]byte(raw.String()))}
	if _, err := g.svc.Users.Messages.Send(gmailUser, msg).Context(ctx).Do(); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
