package incidents

import (
	"context"

	"github.com/Horgix/incidents-automation-app/internal/domain"
)

// IssueTracker creates and updates the tracked issue of an incident.
// It is the authority for incident identifiers.
type IssueTracker interface {
	// CreateIssue returns the key of the created issue, e.g. "INC-17".
	CreateIssue(ctx context.Context, project, issueType, summary, description string) (string, error)
	AddComment(ctx context.Context, issueKey, text string) error
	// TransitionIssue returns ErrNoSuchTransition when the workflow does not
	// offer the transition from the issue's current status.
	TransitionIssue(ctx context.Context, issueKey, transitionID string) error
}

// Room is a team chat conversation.
type Room struct {
	ID   string
	Name string
}

// User is a team chat identity.
type User struct {
	ID   string
	Name string
}

// AttachmentField is a short titled value shown inside an attachment.
type AttachmentField struct {
	Title string
	Value string
	Short bool
}

// Attachment is a colored block of a chat message.
type Attachment struct {
	Text   string
	Color  string
	Fields []AttachmentField
}

// Message is posted to a chat room.
type Message struct {
	Text        string
	Attachments []Attachment
}

// ChatService manages incident rooms on the team chat.
type ChatService interface {
	// CreateRoom returns ErrNameTaken when a room with that name exists.
	CreateRoom(ctx context.Context, name string) (Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	JoinRoom(ctx context.Context, room Room) error
	// InviteUser returns ErrAlreadyMember when the user is already in the room.
	InviteUser(ctx context.Context, roomID, userID string) error
	SetPurpose(ctx context.Context, roomID, text string) error
	SetTopic(ctx context.Context, roomID, text string) error
	PostMessage(ctx context.Context, roomID string, msg Message) error
	ResolveUser(ctx context.Context, userID string) (User, error)
	ResolveChannel(ctx context.Context, channelID string) (Room, error)
}

// Filter selects documents whose Field equals Value.
type Filter struct {
	Field string
	Value string
}

// SearchStore is the durable document store holding incident records.
type SearchStore interface {
	// EnsureIndex creates the index if it does not exist.
	EnsureIndex(ctx context.Context, index string) error
	IndexDocument(ctx context.Context, index, id string, body []byte) error
	RefreshIndex(ctx context.Context, index string) error
	Query(ctx context.Context, index string, filter Filter) ([][]byte, error)
}

// StatusPage publishes incidents to the public status page.
type StatusPage interface {
	// DeclareIncident returns the status page identifier of the incident.
	DeclareIncident(ctx context.Context, incident *domain.Incident) (string, error)
}

// NopStatusPage is used when no status page is configured.
type NopStatusPage struct{}

// DeclareIncident does nothing.
func (NopStatusPage) DeclareIncident(_ context.Context, _ *domain.Incident) (string, error) {
	return "", nil
}

// Event is the chat event that triggered an intent.
type Event struct {
	Channel string
	User    string
	Text    string
}

// Source is an Event with its channel and user resolved through the chat.
type Source struct {
	Channel Room
	User    User
	Message string
}
