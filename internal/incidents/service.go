// Package incidents orchestrates the incident lifecycle across the issue
// tracker, the team chat, the search store and the status page.
//
// None of these systems is transactional. Every operation writes to the
// store before notifying chat or tracker, and reports failures that happen
// after a successful write as a PartialFailureError listing what was done.
//
// Resolving an incident, mutating it and persisting it is not atomic:
// concurrent mutations of the same incident race and the last write wins.
package incidents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Horgix/incidents-automation-app/internal/domain"
	"github.com/Horgix/incidents-automation-app/internal/pkg/ctxlog"
	"github.com/google/uuid"
)

// Operation names used in logs, metrics and partial failure reports.
const (
	OpCreate         = "create_incident"
	OpClose          = "close_incident"
	OpAddUpdate      = "add_update"
	OpSetDescription = "set_description"
	OpListUpdates    = "list_updates"
)

// Config holds orchestrator configuration.
type Config struct {
	Index              string
	TrackerProject     string
	TrackerIssueType   string
	CloseTransitionID  string
	MainRoomID         string        // broadcast room receiving announcements, optional
	InviteUserIDs      []string      // chat users invited to every incident room
	CallTimeout        time.Duration // per collaborator call, 0 disables
	StoreWriteAttempts int
	StoreRetryBackoff  time.Duration
}

// DefaultConfig returns default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Index:              "incidents",
		TrackerProject:     "INC",
		TrackerIssueType:   "Task",
		CloseTransitionID:  "1002",
		CallTimeout:        10 * time.Second,
		StoreWriteAttempts: 3,
		StoreRetryBackoff:  500 * time.Millisecond,
	}
}

// Service implements the incident lifecycle.
type Service struct {
	config     Config
	tracker    IssueTracker
	chat       ChatService
	store      SearchStore
	statusPage StatusPage
	renderer   *Renderer
	codec      domain.Codec

	// indexReady is set once the index exists with its mapping. Until then
	// every write ensures it first so the store never creates it on its own.
	indexReady atomic.Bool

	now   func() time.Time
	newID func() string
}

// NewService creates a new orchestrator. A nil statusPage disables status
// page forwarding.
func NewService(
	config Config,
	tracker IssueTracker,
	chat ChatService,
	store SearchStore,
	statusPage StatusPage,
	renderer *Renderer,
	codec domain.Codec,
) *Service {
	if statusPage == nil {
		statusPage = NopStatusPage{}
	}
	if config.StoreWriteAttempts <= 0 {
		config.StoreWriteAttempts = 1
	}
	return &Service{
		config:     config,
		tracker:    tracker,
		chat:       chat,
		store:      store,
		statusPage: statusPage,
		renderer:   renderer,
		codec:      codec,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// EnsureIndex creates the incident index if it does not exist.
func (s *Service) EnsureIndex(ctx context.Context) error {
	err := s.call(ctx, s.ensureIndex)
	if err != nil {
		return collaboratorErr("store", "ensure index", err)
	}
	return nil
}

func (s *Service) ensureIndex(ctx context.Context) error {
	if s.indexReady.Load() {
		return nil
	}
	if err := s.store.EnsureIndex(ctx, s.config.Index); err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}
	s.indexReady.Store(true)
	return nil
}

// CreateIncidentInput holds data for creating an incident.
type CreateIncidentInput struct {
	Priority    string
	Title       string
	Description string
}

// CreateIncident opens an incident: tracker issue, stored record, dedicated
// chat room, announcements and status page declaration.
//
// The record is written twice. The first write happens before the chat room
// exists, so the store briefly holds the incident without a room id.
func (s *Service) CreateIncident(ctx context.Context, input CreateIncidentInput) (inc *domain.Incident, err error) {
	ctx, op := s.begin(ctx, OpCreate)
	defer func() { op.finish(err) }()

	priority, err := domain.ParsePriority(input.Priority)
	if err != nil {
		return nil, err
	}
	title, description := domain.NormalizeText(input.Title, input.Description)

	op.logger.Info("creating incident",
		"priority", priority,
		"title", title,
	)

	var issueKey string
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		issueKey, err = s.tracker.CreateIssue(ctx, s.config.TrackerProject, s.config.TrackerIssueType, title, description)
		return err
	})
	if err != nil {
		return nil, collaboratorErr("tracker", "create issue", err)
	}
	op.done("create tracker issue " + issueKey)

	id, err := domain.ParseIssueKey(s.config.TrackerProject, issueKey)
	if err != nil {
		return nil, op.fail("extract incident id", err)
	}
	op.setIncident(id)

	inc, err = domain.NewIncident(id, priority, title, description, s.config.TrackerProject, s.now())
	if err != nil {
		return nil, op.fail("build incident", err)
	}

	if err := s.persist(ctx, op, inc); err != nil {
		return inc, op.fail("store incident", err)
	}
	op.done("store incident")

	room, err := s.ensureRoom(ctx, op, inc.ChatRoomName())
	if err != nil {
		return inc, op.fail("create chat room", err)
	}
	inc.ChatRoomID = room.ID
	op.done("create chat room " + room.ID)

	if err := s.setupRoom(ctx, op, inc, room); err != nil {
		return inc, op.fail("set up chat room", err)
	}
	op.done("set up chat room")

	if err := s.persist(ctx, op, inc); err != nil {
		return inc, op.fail("store incident with chat room", err)
	}
	op.done("store incident with chat room")

	if s.config.MainRoomID != "" {
		msg, err := s.renderer.Announcement(inc)
		if err != nil {
			return inc, op.fail("render announcement", err)
		}
		if err := s.post(ctx, s.config.MainRoomID, msg); err != nil {
			return inc, op.fail("post announcement", err)
		}
		op.done("post announcement")
	}

	msg, err := s.renderer.Summary(inc)
	if err != nil {
		return inc, op.fail("render summary", err)
	}
	if err := s.post(ctx, inc.ChatRoomID, msg); err != nil {
		return inc, op.fail("post summary", err)
	}
	op.done("post summary")

	s.declareToStatusPage(ctx, op, inc)

	op.logger.Info("incident created",
		"tracker_issue", inc.TrackerIssueKey,
		"chat_room_id", inc.ChatRoomID,
	)

	return inc, nil
}

// ensureRoom creates the incident room, adopting an existing room with the
// same name when creation reports the name as taken.
func (s *Service) ensureRoom(ctx context.Context, op *operation, name string) (Room, error) {
	var room Room
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		room, err = s.chat.CreateRoom(ctx, name)
		return err
	})
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, ErrNameTaken) {
		return Room{}, collaboratorErr("chat", "create room", err)
	}

	op.logger.Info("chat room name already taken, looking up existing room", "room", name)

	var rooms []Room
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		rooms, err = s.chat.ListRooms(ctx)
		return err
	})
	if err != nil {
		return Room{}, collaboratorErr("chat", "list rooms", err)
	}

	var matches []Room
	for _, r := range rooms {
		if r.Name == name {
			matches = append(matches, r)
		}
	}

	switch len(matches) {
	case 0:
		return Room{}, fmt.Errorf("room %s reported as taken but missing from room list", name)
	case 1:
		return matches[0], nil
	default:
		return Room{}, fmt.Errorf("%w: %s matches %d rooms", ErrAmbiguousRoom, name, len(matches))
	}
}

func (s *Service) setupRoom(ctx context.Context, op *operation, inc *domain.Incident, room Room) error {
	err := s.call(ctx, func(ctx context.Context) error {
		return s.chat.JoinRoom(ctx, room)
	})
	if err != nil {
		return collaboratorErr("chat", "join room", err)
	}

	for _, userID := range s.config.InviteUserIDs {
		err := s.call(ctx, func(ctx context.Context) error {
			return s.chat.InviteUser(ctx, room.ID, userID)
		})
		if errors.Is(err, ErrAlreadyMember) {
			op.logger.Debug("user already in chat room", "user_id", userID)
			continue
		}
		if err != nil {
			return collaboratorErr("chat", "invite user "+userID, err)
		}
	}

	purpose, err := s.renderer.Purpose(inc)
	if err != nil {
		return err
	}
	topic, err := s.renderer.Topic(inc)
	if err != nil {
		return err
	}

	err = s.call(ctx, func(ctx context.Context) error {
		return s.chat.SetPurpose(ctx, room.ID, purpose)
	})
	if err != nil {
		return collaboratorErr("chat", "set purpose", err)
	}

	err = s.call(ctx, func(ctx context.Context) error {
		return s.chat.SetTopic(ctx, room.ID, topic)
	})
	if err != nil {
		return collaboratorErr("chat", "set topic", err)
	}

	return nil
}

// declareToStatusPage forwards the incident to the status page. Failures
// are logged and never undo the incident.
func (s *Service) declareToStatusPage(ctx context.Context, op *operation, inc *domain.Incident) {
	var statusPageID string
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		statusPageID, err = s.statusPage.DeclareIncident(ctx, inc)
		return err
	})
	if err != nil {
		recordPartialFailure(op.name, "declare to status page")
		op.logger.Warn("failed to declare incident to status page",
			"completed", op.completed,
			"error", err,
		)
		return
	}
	if statusPageID == "" {
		return
	}

	inc.StatusPageID = statusPageID
	if err := s.persist(ctx, op, inc); err != nil {
		recordPartialFailure(op.name, "store status page id")
		op.logger.Warn("failed to store status page id",
			"status_page_id", statusPageID,
			"error", err,
		)
	}
}

// CloseIncident closes the incident owning the event's channel. Closing a
// closed incident is a no-op that returns the stored incident.
func (s *Service) CloseIncident(ctx context.Context, event Event) (inc *domain.Incident, err error) {
	ctx, op := s.begin(ctx, OpClose)
	defer func() { op.finish(err) }()

	source, inc, err := s.resolve(ctx, op, event)
	if err != nil {
		return nil, err
	}

	if !inc.Close(s.now()) {
		op.logger.Info("incident already closed", "closing_time", inc.ClosingTime)
		return inc, nil
	}

	if err := s.persist(ctx, op, inc); err != nil {
		return inc, op.fail("store incident", err)
	}
	op.done("store incident")

	msg, err := s.renderer.Closed(inc)
	if err != nil {
		return inc, op.fail("render closing confirmation", err)
	}
	if err := s.post(ctx, inc.ChatRoomID, msg); err != nil {
		return inc, op.fail("post closing confirmation", err)
	}
	op.done("post closing confirmation")

	if err := s.postUpdates(ctx, inc); err != nil {
		return inc, op.fail("post updates", err)
	}
	op.done("post updates")

	err = s.call(ctx, func(ctx context.Context) error {
		return s.tracker.TransitionIssue(ctx, inc.TrackerIssueKey, s.config.CloseTransitionID)
	})
	switch {
	case errors.Is(err, ErrNoSuchTransition):
		op.logger.Info("tracker issue cannot be transitioned, leaving it as is",
			"tracker_issue", inc.TrackerIssueKey,
			"transition_id", s.config.CloseTransitionID,
		)
	case err != nil:
		return inc, op.fail("transition tracker issue", collaboratorErr("tracker", "transition issue", err))
	default:
		op.done("transition tracker issue")
	}

	// TODO: mark the incident as fixed on the status page once its
	// component status mapping is configurable.

	op.logger.Info("incident closed", "closed_by", source.User.Name)

	return inc, nil
}

// AddUpdate logs an update on the incident owning the event's channel. An
// empty message falls back to the event text.
func (s *Service) AddUpdate(ctx context.Context, event Event, message string) (inc *domain.Incident, err error) {
	ctx, op := s.begin(ctx, OpAddUpdate)
	defer func() { op.finish(err) }()

	source, inc, err := s.resolve(ctx, op, event)
	if err != nil {
		return nil, err
	}

	if message == "" {
		message = source.Message
	}

	update, err := inc.AddUpdate(message, &domain.Author{ID: source.User.ID, Name: source.User.Name}, s.now())
	if err != nil {
		return inc, err
	}

	if err := s.persist(ctx, op, inc); err != nil {
		return inc, op.fail("store incident", err)
	}
	op.done("store incident")

	msg, err := s.renderer.UpdateAck(inc, update)
	if err != nil {
		return inc, op.fail("render update acknowledgment", err)
	}
	if err := s.post(ctx, inc.ChatRoomID, msg); err != nil {
		return inc, op.fail("post update acknowledgment", err)
	}
	op.done("post update acknowledgment")

	comment := fmt.Sprintf("%s: %s", source.User.Name, message)
	err = s.call(ctx, func(ctx context.Context) error {
		return s.tracker.AddComment(ctx, inc.TrackerIssueKey, comment)
	})
	if err != nil {
		return inc, op.fail("add tracker comment", collaboratorErr("tracker", "add comment", err))
	}
	op.done("add tracker comment")

	op.logger.Info("incident update added",
		"author", source.User.Name,
		"updates", len(inc.Updates),
	)

	return inc, nil
}

// SetDescription replaces the description of the incident owning the
// event's channel and refreshes the room purpose.
func (s *Service) SetDescription(ctx context.Context, event Event, description string) (inc *domain.Incident, err error) {
	ctx, op := s.begin(ctx, OpSetDescription)
	defer func() { op.finish(err) }()

	source, inc, err := s.resolve(ctx, op, event)
	if err != nil {
		return nil, err
	}

	if err := inc.SetDescription(description); err != nil {
		return inc, err
	}

	if err := s.persist(ctx, op, inc); err != nil {
		return inc, op.fail("store incident", err)
	}
	op.done("store incident")

	purpose, err := s.renderer.Purpose(inc)
	if err != nil {
		return inc, op.fail("render purpose", err)
	}
	err = s.call(ctx, func(ctx context.Context) error {
		return s.chat.SetPurpose(ctx, inc.ChatRoomID, purpose)
	})
	if err != nil {
		return inc, op.fail("set purpose", collaboratorErr("chat", "set purpose", err))
	}
	op.done("set purpose")

	op.logger.Info("incident description updated", "author", source.User.Name)

	return inc, nil
}

// ListUpdates posts the updates of the incident owning the event's channel
// to its room.
func (s *Service) ListUpdates(ctx context.Context, event Event) (inc *domain.Incident, err error) {
	ctx, op := s.begin(ctx, OpListUpdates)
	defer func() { op.finish(err) }()

	_, inc, err = s.resolve(ctx, op, event)
	if err != nil {
		return nil, err
	}

	if err := s.postUpdates(ctx, inc); err != nil {
		return inc, err
	}

	return inc, nil
}

func (s *Service) postUpdates(ctx context.Context, inc *domain.Incident) error {
	msg, err := s.renderer.Updates(inc)
	if err != nil {
		return err
	}
	return s.post(ctx, inc.ChatRoomID, msg)
}

func (s *Service) post(ctx context.Context, roomID string, msg Message) error {
	err := s.call(ctx, func(ctx context.Context) error {
		return s.chat.PostMessage(ctx, roomID, msg)
	})
	if err != nil {
		return collaboratorErr("chat", "post message", err)
	}
	return nil
}

// persist writes the incident to the store and refreshes the index so the
// next channel lookup sees it. The index is ensured first until that has
// succeeded once. Failed writes are retried with exponential backoff.
func (s *Service) persist(ctx context.Context, op *operation, inc *domain.Incident) error {
	body, err := s.codec.Marshal(inc)
	if err != nil {
		return err
	}
	id := strconv.Itoa(inc.ID)

	var lastErr error
	for attempt := 1; attempt <= s.config.StoreWriteAttempts; attempt++ {
		lastErr = s.call(ctx, func(ctx context.Context) error {
			if err := s.ensureIndex(ctx); err != nil {
				return err
			}
			if err := s.store.IndexDocument(ctx, s.config.Index, id, body); err != nil {
				return fmt.Errorf("index document: %w", err)
			}
			if err := s.store.RefreshIndex(ctx, s.config.Index); err != nil {
				return fmt.Errorf("refresh index: %w", err)
			}
			return nil
		})
		if lastErr == nil {
			return nil
		}

		if attempt < s.config.StoreWriteAttempts {
			backoff := s.backoff(attempt)
			op.logger.Warn("failed to store incident, retrying",
				"attempt", attempt,
				"max_attempts", s.config.StoreWriteAttempts,
				"backoff", backoff,
				"error", lastErr,
			)
			if !sleep(ctx, backoff) {
				return collaboratorErr("store", "persist incident", ctx.Err())
			}
		}
	}

	return collaboratorErr("store", "persist incident", lastErr)
}

func (s *Service) backoff(attempt int) time.Duration {
	return s.config.StoreRetryBackoff * time.Duration(1<<(attempt-1))
}

// call runs fn under the per-call timeout. A timeout surfaces as the
// collaborator's failure.
func (s *Service) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.config.CallTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.CallTimeout)
	defer cancel()
	return fn(ctx)
}

// sleep waits for duration or context cancellation. Returns false if cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// operation tracks one lifecycle operation for logs, metrics and partial
// failure reports.
type operation struct {
	name       string
	id         string
	incidentID int
	completed  []string
	logger     *slog.Logger
	start      time.Time
}

// begin starts an operation. The returned context is detached from the
// caller's cancellation: once started, an operation runs to completion or to
// its first fatal error, and only the per-call timeout bounds each step.
func (s *Service) begin(ctx context.Context, name string) (context.Context, *operation) {
	id := s.newID()
	return context.WithoutCancel(ctx), &operation{
		name:   name,
		id:     id,
		logger: ctxlog.FromContext(ctx).With("operation", name, "operation_id", id),
		start:  time.Now(),
	}
}

func (op *operation) setIncident(id int) {
	op.incidentID = id
	op.logger = op.logger.With("incident_id", id)
}

func (op *operation) done(step string) {
	op.completed = append(op.completed, step)
}

// fail returns err as is when nothing was written yet, otherwise wraps it
// into a PartialFailureError.
func (op *operation) fail(step string, err error) error {
	if len(op.completed) == 0 {
		return err
	}
	recordPartialFailure(op.name, step)
	return &PartialFailureError{
		Operation:   op.name,
		OperationID: op.id,
		IncidentID:  op.incidentID,
		Completed:   append([]string(nil), op.completed...),
		Failed:      step,
		Err:         err,
	}
}

func (op *operation) finish(err error) {
	recordOperation(op.name, err, time.Since(op.start))
	if err == nil {
		return
	}

	var partial *PartialFailureError
	if errors.As(err, &partial) {
		op.logger.Error("operation partially failed, manual reconciliation needed",
			"failed_step", partial.Failed,
			"completed", partial.Completed,
			"error", err,
		)
		return
	}
	op.logger.Warn("operation failed", "error", err)
}
