// Package messaging provides the message delivery abstraction for
// DecisionPipe and its Slack implementation.
package messaging

import "context"

// Service defines a pluggable message delivery abstraction. The session
// stepper and discussion router call these as side-effecting actions and do
// not interpret return values beyond channel handles.
type Service interface {
	// SendMessage sends text to a channel (DM or broadcast).
	SendMessage(ctx context.Context, channelID, text string) error

	// SendThreadMessage sends text anchored to an existing thread.
	SendThreadMessage(ctx context.Context, channelID, threadTS, text string) error

	// OpenDirectChannel opens (or returns the existing) direct message
	// channel with a participant and returns its channel ID.
	OpenDirectChannel(ctx context.Context, userID string) (string, error)

	// ResolveDisplayName resolves a participant identity to a human-readable
	// name.
	ResolveDisplayName(ctx context.Context, userID string) (string, error)

	// BotUserID returns the authenticated bot's own user identity, so mention
	// parsing can exclude the bot from recipient lists.
	BotUserID(ctx context.Context) (string, error)

	// ListDirectChannels returns the channel IDs of existing direct message
	// channels.
	ListDirectChannels(ctx context.Context) ([]string, error)

	// CreateBroadcastChannel creates a public channel with the given name and
	// returns its channel ID.
	CreateBroadcastChannel(ctx context.Context, name string) (string, error)
}
