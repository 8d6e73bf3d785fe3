// Package messaging provides the message delivery abstraction for
// DecisionPipe and its Slack implementation.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/slack-go/slack"
)

// slackAPI is the subset of the Slack Web API used by the service, extracted
// as an interface so tests can substitute a mock.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	GetConversationsForUserContext(ctx context.Context, params *slack.GetConversationsForUserParameters) ([]slack.Channel, string, error)
	CreateConversationContext(ctx context.Context, params slack.CreateConversationParams) (*slack.Channel, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
}

// SlackService implements Service over the Slack Web API.
type SlackService struct {
	api slackAPI

	mu        sync.Mutex
	botUserID string
}

// NewSlackService creates a Slack-backed delivery service with the given bot
// token.
func NewSlackService(token string) (*SlackService, error) {
	if token == "" {
		slog.Error("SlackService missing bot token")
		return nil, fmt.Errorf("SLACK_BOT_TOKEN not set")
	}
	return &SlackService{api: slack.New(token)}, nil
}

// SendMessage sends text to a channel.
func (s *SlackService) SendMessage(ctx context.Context, channelID, text string) error {
	_, _, err := s.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
	if err != nil {
		slog.Error("SlackService SendMessage failed", "error", err, "channel", channelID)
		return fmt.Errorf("failed to send message to %s: %w", channelID, err)
	}
	slog.Debug("SlackService SendMessage succeeded", "channel", channelID, "text_length", len(text))
	return nil
}

// SendThreadMessage sends text anchored to an existing thread.
func (s *SlackService) SendThreadMessage(ctx context.Context, channelID, threadTS, text string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, _, err := s.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		slog.Error("SlackService SendThreadMessage failed", "error", err, "channel", channelID, "thread_ts", threadTS)
		return fmt.Errorf("failed to send thread message to %s: %w", channelID, err)
	}
	slog.Debug("SlackService SendThreadMessage succeeded", "channel", channelID, "thread_ts", threadTS)
	return nil
}

// OpenDirectChannel opens (or returns the existing) DM channel with a user.
func (s *SlackService) OpenDirectChannel(ctx context.Context, userID string) (string, error) {
	ch, _, _, err := s.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users:    []string{userID},
		ReturnIM: true,
	})
	if err != nil {
		slog.Error("SlackService OpenDirectChannel failed", "error", err, "user", userID)
		return "", fmt.Errorf("failed to open direct channel with %s: %w", userID, err)
	}
	slog.Debug("SlackService OpenDirectChannel succeeded", "user", userID, "channel", ch.ID)
	return ch.ID, nil
}

// ResolveDisplayName resolves a user ID to a display name, preferring the
// profile display name and falling back to the real name, then the ID.
func (s *SlackService) ResolveDisplayName(ctx context.Context, userID string) (string, error) {
	user, err := s.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		slog.Error("SlackService ResolveDisplayName failed", "error", err, "user", userID)
		return "", fmt.Errorf("failed to resolve display name for %s: %w", userID, err)
	}
	name := user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	if name == "" {
		name = userID
	}
	return name, nil
}

// BotUserID returns the bot's own user identity, resolved once via the auth
// test endpoint and cached for the life of the service.
func (s *SlackService) BotUserID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.botUserID != "" {
		return s.botUserID, nil
	}
	resp, err := s.api.AuthTestContext(ctx)
	if err != nil {
		slog.Error("SlackService BotUserID auth test failed", "error", err)
		return "", fmt.Errorf("failed to resolve bot identity: %w", err)
	}
	s.botUserID = resp.UserID
	slog.Debug("SlackService bot identity resolved", "user", s.botUserID)
	return s.botUserID, nil
}

// ListDirectChannels returns the channel IDs of the bot's existing DMs.
func (s *SlackService) ListDirectChannels(ctx context.Context) ([]string, error) {
	var out []string
	cursor := ""
	for {
		channels, next, err := s.api.GetConversationsForUserContext(ctx, &slack.GetConversationsForUserParameters{
			Types:  []string{"im"},
			Cursor: cursor,
		})
		if err != nil {
			slog.Error("SlackService ListDirectChannels failed", "error", err)
			return nil, fmt.Errorf("failed to list direct channels: %w", err)
		}
		for _, ch := range channels {
			out = append(out, ch.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	slog.Debug("SlackService ListDirectChannels succeeded", "count", len(out))
	return out, nil
}

// CreateBroadcastChannel creates a public channel with the given name.
func (s *SlackService) CreateBroadcastChannel(ctx context.Context, name string) (string, error) {
	ch, err := s.api.CreateConversationContext(ctx, slack.CreateConversationParams{ChannelName: name})
	if err != nil {
		slog.Error("SlackService CreateBroadcastChannel failed", "error", err, "name", name)
		return "", fmt.Errorf("failed to create channel %s: %w", name, err)
	}
	slog.Info("SlackService broadcast channel created", "name", name, "channel", ch.ID)
	return ch.ID, nil
}
