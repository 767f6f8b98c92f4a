package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultTimeLayout is the timestamp layout of stored incidents.
const DefaultTimeLayout = "2006-01-02T15:04:05"

// FieldChatRoomID is the document field holding the chat room id.
const FieldChatRoomID = "chat_room_id"

// DeserializationError reports a stored incident that cannot be decoded.
type DeserializationError struct {
	Field string
	Err   error
}

func (e *DeserializationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("deserialize incident: %v", e.Err)
	}
	return fmt.Sprintf("deserialize incident: field %s: %v", e.Field, e.Err)
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// Codec converts incidents to and from their stored JSON document.
// Timestamps are rendered with TimeLayout in Location.
type Codec struct {
	TimeLayout string
	Location   *time.Location
}

// NewCodec creates a codec. An empty layout selects DefaultTimeLayout and a
// nil location selects UTC.
func NewCodec(layout string, loc *time.Location) Codec {
	if layout == "" {
		layout = DefaultTimeLayout
	}
	if loc == nil {
		loc = time.UTC
	}
	return Codec{TimeLayout: layout, Location: loc}
}

type document struct {
	ID              *int             `json:"id"`
	State           string           `json:"state"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Priority        string           `json:"priority"`
	ChatRoom        string           `json:"chat_room"`
	ChatRoomID      string           `json:"chat_room_id"`
	OpeningTime     string           `json:"opening_time"`
	ClosingTime     *string          `json:"closing_time"`
	StartingTime    string           `json:"starting_time"`
	EndingTime      *string          `json:"ending_time"`
	Updates         []updateDocument `json:"updates"`
	TrackerIssueKey string           `json:"tracker_issue_key"`
	StatusPageID    string           `json:"status_page_id,omitempty"`
}

type updateDocument struct {
	Message string  `json:"message"`
	Author  *Author `json:"author,omitempty"`
	Date    string  `json:"date"`
}

// Marshal serializes an incident.
func (c Codec) Marshal(inc *Incident) ([]byte, error) {
	id := inc.ID
	doc := document{
		ID:              &id,
		State:           string(inc.State),
		Title:           inc.Title,
		Description:     inc.Description,
		Priority:        string(inc.Priority),
		ChatRoom:        inc.ChatRoomName(),
		ChatRoomID:      inc.ChatRoomID,
		OpeningTime:     c.formatTime(inc.OpeningTime),
		ClosingTime:     c.formatTimePtr(inc.ClosingTime),
		StartingTime:    c.formatTime(inc.StartingTime),
		EndingTime:      c.formatTimePtr(inc.EndingTime),
		Updates:         make([]updateDocument, 0, len(inc.Updates)),
		TrackerIssueKey: inc.TrackerIssueKey,
		StatusPageID:    inc.StatusPageID,
	}
	for _, u := range inc.Updates {
		doc.Updates = append(doc.Updates, updateDocument{
			Message: u.Message,
			Author:  u.Author,
			Date:    c.formatTime(u.Date),
		})
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal incident %d: %w", inc.ID, err)
	}
	return data, nil
}

// Unmarshal deserializes an incident previously produced by Marshal.
func (c Codec) Unmarshal(data []byte) (*Incident, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &DeserializationError{Err: err}
	}

	if doc.ID == nil {
		return nil, &DeserializationError{Field: "id", Err: fmt.Errorf("missing")}
	}

	state := State(doc.State)
	if !state.IsValid() {
		return nil, &DeserializationError{Field: "state", Err: fmt.Errorf("unknown value %q", doc.State)}
	}

	priority := Priority(doc.Priority)
	if !priority.IsValid() {
		return nil, &DeserializationError{Field: "priority", Err: fmt.Errorf("unknown value %q", doc.Priority)}
	}

	if doc.TrackerIssueKey == "" {
		return nil, &DeserializationError{Field: "tracker_issue_key", Err: fmt.Errorf("missing")}
	}

	opening, err := c.parseTime("opening_time", doc.OpeningTime)
	if err != nil {
		return nil, err
	}

	starting := opening
	if doc.StartingTime != "" {
		starting, err = c.parseTime("starting_time", doc.StartingTime)
		if err != nil {
			return nil, err
		}
	}

	closing, err := c.parseTimePtr("closing_time", doc.ClosingTime)
	if err != nil {
		return nil, err
	}
	if state == StateClosed && closing == nil {
		return nil, &DeserializationError{Field: "closing_time", Err: fmt.Errorf("missing on closed incident")}
	}

	ending, err := c.parseTimePtr("ending_time", doc.EndingTime)
	if err != nil {
		return nil, err
	}

	inc := &Incident{
		ID:              *doc.ID,
		State:           state,
		Title:           doc.Title,
		Description:     doc.Description,
		Priority:        priority,
		ChatRoomID:      doc.ChatRoomID,
		OpeningTime:     opening,
		ClosingTime:     closing,
		StartingTime:    starting,
		EndingTime:      ending,
		Updates:         make([]Update, 0, len(doc.Updates)),
		TrackerIssueKey: doc.TrackerIssueKey,
		StatusPageID:    doc.StatusPageID,
	}

	for idx, u := range doc.Updates {
		date, err := c.parseTime(fmt.Sprintf("updates[%d].date", idx), u.Date)
		if err != nil {
			return nil, err
		}
		inc.Updates = append(inc.Updates, Update{
			Message: u.Message,
			Author:  u.Author,
			Date:    date,
		})
	}

	return inc, nil
}

func (c Codec) formatTime(t time.Time) string {
	return t.In(c.Location).Format(c.TimeLayout)
}

func (c Codec) formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := c.formatTime(*t)
	return &s
}

func (c Codec) parseTime(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, &DeserializationError{Field: field, Err: fmt.Errorf("missing")}
	}
	t, err := time.ParseInLocation(c.TimeLayout, value, c.Location)
	if err != nil {
		return time.Time{}, &DeserializationError{Field: field, Err: err}
	}
	return t, nil
}

func (c Codec) parseTimePtr(field string, value *string) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	t, err := c.parseTime(field, *value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
