// Package domain holds the incident record and its serialized form.
package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// State represents the lifecycle state of an incident.
type State string

// Incident states.
const (
	StateOngoing State = "Ongoing"
	StateClosed  State = "Closed"
)

// IsValid checks if the state is a known value.
func (s State) IsValid() bool {
	return s == StateOngoing || s == StateClosed
}

// Priority represents the priority of an incident.
type Priority string

// Incident priorities.
const (
	PriorityOrange Priority = "orange"
	PriorityRed    Priority = "red"
)

// IsValid checks if the priority is a known value.
func (p Priority) IsValid() bool {
	return p == PriorityOrange || p == PriorityRed
}

// ParsePriority normalizes user input into a Priority. Empty input selects
// DefaultPriority.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return DefaultPriority, nil
	}
	if !p.IsValid() {
		return "", &ValidationError{Field: "priority", Message: fmt.Sprintf("%q is not one of orange, red", s)}
	}
	return p, nil
}

// Defaults substituted when creation input is empty.
const (
	DefaultTitle       = "Undefined"
	DefaultDescription = "Undefined"
	DefaultPriority    = PriorityRed

	roomPrefix = "incident-"
)

var (
	ErrUnknownPriority = errors.New("unknown incident priority")
	ErrIncidentClosed  = errors.New("incident is closed")
)

// ValidationError reports bad input to incident creation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Author identifies the chat user who logged an update.
type Author struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Update is one entry of the incident audit trail.
type Update struct {
	Message string
	Author  *Author
	Date    time.Time
}

// Incident is the canonical record of one incident.
type Incident struct {
	ID              int
	State           State
	Title           string
	Description     string
	Priority        Priority
	ChatRoomID      string
	OpeningTime     time.Time
	ClosingTime     *time.Time
	StartingTime    time.Time
	EndingTime      *time.Time
	Updates         []Update
	TrackerIssueKey string
	StatusPageID    string
}

// NewIncident creates an ongoing incident for a tracker-assigned id.
func NewIncident(id int, priority Priority, title, description, project string, now time.Time) (*Incident, error) {
	if priority == "" {
		priority = DefaultPriority
	}
	if !priority.IsValid() {
		return nil, &ValidationError{Field: "priority", Message: fmt.Sprintf("%q is not one of orange, red", priority)}
	}
	title, description = NormalizeText(title, description)

	now = now.Truncate(time.Second)

	return &Incident{
		ID:              id,
		State:           StateOngoing,
		Title:           title,
		Description:     description,
		Priority:        priority,
		OpeningTime:     now,
		StartingTime:    now,
		Updates:         []Update{},
		TrackerIssueKey: IssueKey(project, id),
	}, nil
}

// NormalizeText trims creation text and substitutes the defaults for empty
// values. The tracker issue and the record must carry the same text.
func NormalizeText(title, description string) (string, string) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = DefaultDescription
	}
	return title, description
}

// IssueKey builds the tracker issue key for an incident id.
func IssueKey(project string, id int) string {
	return project + "-" + strconv.Itoa(id)
}

// ParseIssueKey extracts the numeric incident id from a tracker issue key.
func ParseIssueKey(project, key string) (int, error) {
	prefix := project + "-"
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return 0, fmt.Errorf("issue key %q does not belong to project %s", key, project)
	}
	id, err := strconv.Atoi(key[len(prefix):])
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("issue key %q has no numeric suffix", key)
	}
	return id, nil
}

// RoomName returns the chat room name of an incident id.
func RoomName(id int) string {
	return roomPrefix + strconv.Itoa(id)
}

// ChatRoomName returns the dedicated chat room name.
func (i *Incident) ChatRoomName() string {
	return RoomName(i.ID)
}

// IsClosed reports whether the incident reached its terminal state.
func (i *Incident) IsClosed() bool {
	return i.State == StateClosed
}

// Close moves the incident to Closed. It returns false when the incident
// was already closed, leaving the closing time untouched.
func (i *Incident) Close(now time.Time) bool {
	if i.IsClosed() {
		return false
	}
	now = now.Truncate(time.Second)
	i.State = StateClosed
	i.ClosingTime = &now
	i.EndingTime = &now
	return true
}

// AddUpdate appends an entry to the audit trail.
func (i *Incident) AddUpdate(message string, author *Author, now time.Time) (Update, error) {
	if i.IsClosed() {
		return Update{}, ErrIncidentClosed
	}
	update := Update{
		Message: message,
		Author:  author,
		Date:    now.Truncate(time.Second),
	}
	i.Updates = append(i.Updates, update)
	return update, nil
}

// SetDescription replaces the incident description.
func (i *Incident) SetDescription(description string) error {
	if i.IsClosed() {
		return ErrIncidentClosed
	}
	i.Description = description
	return nil
}

// ColorFor maps a priority to its presentation color.
func ColorFor(p Priority) (string, error) {
	switch p {
	case PriorityOrange:
		return "#ffa500", nil
	case PriorityRed:
		return "#ff2600", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPriority, p)
	}
}

// UpdateDateLayout is the timestamp layout used in chat listings.
const UpdateDateLayout = "2006-01-02 15:04:05"

// FormatUpdate renders an update as a numbered chat line. index is 0-based.
func FormatUpdate(u Update, index int) string {
	author := ""
	if u.Author != nil && u.Author.ID != "" {
		author = " - <@" + u.Author.ID + ">"
	}
	return fmt.Sprintf("Update #%d (%s%s) - %s", index+1, u.Date.Format(UpdateDateLayout), author, u.Message)
}
