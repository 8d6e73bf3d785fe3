package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/slack-go/slack"
)

// mockSlackAPI implements slackAPI for testing.
type mockSlackAPI struct {
	postErr     error
	postCount   int
	lastChannel string

	openErr error
	user    *slack.User
	userErr error

	imPages [][]slack.Channel
	cursors []string
	created *slack.Channel

	authUserID    string
	authErr       error
	authTestCalls int
}

func (m *mockSlackAPI) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	m.postCount++
	m.lastChannel = channelID
	return channelID, "1234.5678", m.postErr
}

func (m *mockSlackAPI) OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error) {
	if m.openErr != nil {
		return nil, false, false, m.openErr
	}
	ch := &slack.Channel{}
	ch.ID = "D" + params.Users[0]
	return ch, false, false, nil
}

func (m *mockSlackAPI) GetUserInfoContext(ctx context.Context, user string) (*slack.User, error) {
	return m.user, m.userErr
}

func (m *mockSlackAPI) GetConversationsForUserContext(ctx context.Context, params *slack.GetConversationsForUserParameters) ([]slack.Channel, string, error) {
	if len(m.imPages) == 0 {
		return nil, "", nil
	}
	page := m.imPages[0]
	m.imPages = m.imPages[1:]
	cursor := ""
	if len(m.cursors) > 0 {
		cursor = m.cursors[0]
		m.cursors = m.cursors[1:]
	}
	return page, cursor, nil
}

func (m *mockSlackAPI) CreateConversationContext(ctx context.Context, params slack.CreateConversationParams) (*slack.Channel, error) {
	if m.created == nil {
		return nil, errors.New("create failed")
	}
	return m.created, nil
}

func (m *mockSlackAPI) AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error) {
	m.authTestCalls++
	if m.authErr != nil {
		return nil, m.authErr
	}
	return &slack.AuthTestResponse{UserID: m.authUserID}, nil
}

func TestSendMessage(t *testing.T) {
	mock := &mockSlackAPI{}
	svc := &SlackService{api: mock}
	if err := svc.SendMessage(context.Background(), "C123", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if mock.lastChannel != "C123" || mock.postCount != 1 {
		t.Errorf("unexpected post state: channel=%q count=%d", mock.lastChannel, mock.postCount)
	}
}

func TestSendMessageError(t *testing.T) {
	svc := &SlackService{api: &mockSlackAPI{postErr: errors.New("channel_not_found")}}
	if err := svc.SendMessage(context.Background(), "C404", "hello"); err == nil {
		t.Fatal("expected error from failing post")
	}
}

func TestOpenDirectChannel(t *testing.T) {
	svc := &SlackService{api: &mockSlackAPI{}}
	id, err := svc.OpenDirectChannel(context.Background(), "U1")
	if err != nil {
		t.Fatalf("OpenDirectChannel failed: %v", err)
	}
	if id != "DU1" {
		t.Errorf("unexpected DM channel ID: %q", id)
	}
}

func TestResolveDisplayNameFallbacks(t *testing.T) {
	withDisplay := &slack.User{RealName: "Alice Real"}
	withDisplay.Profile.DisplayName = "alice"
	cases := []struct {
		name string
		user *slack.User
		want string
	}{
		{"display name preferred", withDisplay, "alice"},
		{"real name fallback", &slack.User{RealName: "Alice Real"}, "Alice Real"},
		{"id fallback", &slack.User{}, "U1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &SlackService{api: &mockSlackAPI{user: tc.user}}
			got, err := svc.ResolveDisplayName(context.Background(), "U1")
			if err != nil {
				t.Fatalf("ResolveDisplayName failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestBotUserIDCachesAuthTest(t *testing.T) {
	mock := &mockSlackAPI{authUserID: "UBOT"}
	svc := &SlackService{api: mock}

	for i := 0; i < 3; i++ {
		id, err := svc.BotUserID(context.Background())
		if err != nil {
			t.Fatalf("BotUserID failed: %v", err)
		}
		if id != "UBOT" {
			t.Errorf("expected UBOT, got %q", id)
		}
	}
	if mock.authTestCalls != 1 {
		t.Errorf("expected a single auth test call, got %d", mock.authTestCalls)
	}
}

func TestBotUserIDError(t *testing.T) {
	svc := &SlackService{api: &mockSlackAPI{authErr: errors.New("invalid_auth")}}
	if _, err := svc.BotUserID(context.Background()); err == nil {
		t.Fatal("expected error from failing auth test")
	}
}

func TestListDirectChannelsPaginates(t *testing.T) {
	ch := func(id string) slack.Channel {
		var c slack.Channel
		c.ID = id
		return c
	}
	mock := &mockSlackAPI{
		imPages: [][]slack.Channel{{ch("D1"), ch("D2")}, {ch("D3")}},
		cursors: []string{"next", ""},
	}
	svc := &SlackService{api: mock}
	out, err := svc.ListDirectChannels(context.Background())
	if err != nil {
		t.Fatalf("ListDirectChannels failed: %v", err)
	}
	if len(out) != 3 || out[0] != "D1" || out[2] != "D3" {
		t.Errorf("unexpected channel list: %v", out)
	}
}
