// Package slack implements the incident chat on top of the Slack Web API.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Horgix/incidents-automation-app/internal/incidents"
	"github.com/slack-go/slack"
	"golang.org/x/time/rate"
)

const (
	defaultRateLimit = 1 // Slack tier 2/3 methods allow roughly one call per second
	defaultBurst     = 5
	listPageSize     = 200
)

// Slack error codes mapped to domain errors.
const (
	codeNameTaken        = "name_taken"
	codeAlreadyInChannel = "already_in_channel"
	codeCantInviteSelf   = "cant_invite_self"
)

// Config holds Slack client configuration.
type Config struct {
	Token     string
	APIURL    string  // override for tests, must end with a slash
	RateLimit float64 // requests per second, 0 uses the default
	Burst     int
}

// Client implements incidents.ChatService.
type Client struct {
	api     *slack.Client
	limiter *rate.Limiter
}

// NewClient creates a new Slack client.
func NewClient(config Config) (*Client, error) {
	if config.Token == "" {
		return nil, errors.New("slack client: token is required")
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.Burst <= 0 {
		config.Burst = defaultBurst
	}

	var opts []slack.Option
	if config.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(config.APIURL))
	}

	slog.Info("slack client configured",
		"rate_limit", config.RateLimit,
		"burst", config.Burst,
	)

	return &Client{
		api:     slack.New(config.Token, opts...),
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// CreateRoom creates a public channel. Returns incidents.ErrNameTaken when a
// channel with that name already exists.
func (c *Client) CreateRoom(ctx context.Context, name string) (incidents.Room, error) {
	if err := c.wait(ctx); err != nil {
		return incidents.Room{}, err
	}

	channel, err := c.api.CreateConversationContext(ctx, slack.CreateConversationParams{
		ChannelName: name,
	})
	if err != nil {
		if errorCode(err) == codeNameTaken {
			return incidents.Room{}, fmt.Errorf("create channel %s: %w", name, incidents.ErrNameTaken)
		}
		return incidents.Room{}, fmt.Errorf("create channel %s: %w", name, err)
	}

	return incidents.Room{ID: channel.ID, Name: channel.Name}, nil
}

// ListRooms returns all non archived public channels.
func (c *Client) ListRooms(ctx context.Context) ([]incidents.Room, error) {
	var rooms []incidents.Room
	cursor := ""

	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		channels, next, err := c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Cursor:          cursor,
			ExcludeArchived: true,
			Limit:           listPageSize,
			Types:           []string{"public_channel"},
		})
		if err != nil {
			return nil, fmt.Errorf("list channels: %w", err)
		}

		for _, ch := range channels {
			rooms = append(rooms, incidents.Room{ID: ch.ID, Name: ch.Name})
		}

		if next == "" {
			return rooms, nil
		}
		cursor = next
	}
}

// JoinRoom makes the bot a member of the room.
func (c *Client) JoinRoom(ctx context.Context, room incidents.Room) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	if _, _, _, err := c.api.JoinConversationContext(ctx, room.ID); err != nil {
		return fmt.Errorf("join channel %s: %w", room.Name, err)
	}
	return nil
}

// InviteUser invites a user into the room. Returns incidents.ErrAlreadyMember
// when the user is already in it.
func (c *Client) InviteUser(ctx context.Context, roomID, userID string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	if _, err := c.api.InviteUsersToConversationContext(ctx, roomID, userID); err != nil {
		switch errorCode(err) {
		case codeAlreadyInChannel, codeCantInviteSelf:
			return fmt.Errorf("invite %s: %w", userID, incidents.ErrAlreadyMember)
		}
		return fmt.Errorf("invite %s: %w", userID, err)
	}
	return nil
}

// SetPurpose sets the channel purpose.
func (c *Client) SetPurpose(ctx context.Context, roomID, text string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	if _, err := c.api.SetPurposeOfConversationContext(ctx, roomID, text); err != nil {
		return fmt.Errorf("set purpose: %w", err)
	}
	return nil
}

// SetTopic sets the channel topic.
func (c *Client) SetTopic(ctx context.Context, roomID, text string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	if _, err := c.api.SetTopicOfConversationContext(ctx, roomID, text); err != nil {
		return fmt.Errorf("set topic: %w", err)
	}
	return nil
}

// PostMessage posts a message as the bot user.
func (c *Client) PostMessage(ctx context.Context, roomID string, msg incidents.Message) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	opts := []slack.MsgOption{
		slack.MsgOptionText(msg.Text, false),
		slack.MsgOptionAsUser(true),
	}
	if len(msg.Attachments) > 0 {
		opts = append(opts, slack.MsgOptionAttachments(toAttachments(msg.Attachments)...))
	}

	if _, _, err := c.api.PostMessageContext(ctx, roomID, opts...); err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}

// ResolveUser returns the id and handle of a user.
func (c *Client) ResolveUser(ctx context.Context, userID string) (incidents.User, error) {
	if err := c.wait(ctx); err != nil {
		return incidents.User{}, err
	}

	user, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return incidents.User{}, fmt.Errorf("get user %s: %w", userID, err)
	}
	return incidents.User{ID: user.ID, Name: user.Name}, nil
}

// ResolveChannel returns the id and name of a channel.
func (c *Client) ResolveChannel(ctx context.Context, channelID string) (incidents.Room, error) {
	if err := c.wait(ctx); err != nil {
		return incidents.Room{}, err
	}

	channel, err := c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{
		ChannelID: channelID,
	})
	if err != nil {
		return incidents.Room{}, fmt.Errorf("get channel %s: %w", channelID, err)
	}
	return incidents.Room{ID: channel.ID, Name: channel.Name}, nil
}

func toAttachments(in []incidents.Attachment) []slack.Attachment {
	out := make([]slack.Attachment, 0, len(in))
	for _, a := range in {
		fields := make([]slack.AttachmentField, 0, len(a.Fields))
		for _, f := range a.Fields {
			fields = append(fields, slack.AttachmentField{
				Title: f.Title,
				Value: f.Value,
				Short: f.Short,
			})
		}
		out = append(out, slack.Attachment{
			Text:       a.Text,
			Color:      a.Color,
			Fields:     fields,
			MarkdownIn: []string{"text"},
		})
	}
	return out
}

// errorCode extracts the Slack error code of a failed call.
func errorCode(err error) string {
	var slackErr slack.SlackErrorResponse
	if errors.As(err, &slackErr) {
		return slackErr.Err
	}
	return err.Error()
}
