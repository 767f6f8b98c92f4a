package webhook

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Horgix/incidents-automation-app/internal/domain"
	"github.com/Horgix/incidents-automation-app/internal/incidents"
	"github.com/Horgix/incidents-automation-app/internal/pkg/ctxlog"
	"github.com/Horgix/incidents-automation-app/internal/pkg/httputil"
	"github.com/Horgix/incidents-automation-app/internal/pkg/metrics"
)

// Orchestrator runs the incident lifecycle operations behind each intent.
type Orchestrator interface {
	CreateIncident(ctx context.Context, input incidents.CreateIncidentInput) (*domain.Incident, error)
	CloseIncident(ctx context.Context, event incidents.Event) (*domain.Incident, error)
	AddUpdate(ctx context.Context, event incidents.Event, message string) (*domain.Incident, error)
	SetDescription(ctx context.Context, event incidents.Event, description string) (*domain.Incident, error)
	ListUpdates(ctx context.Context, event incidents.Event) (*domain.Incident, error)
}

// Dispatcher maps intents onto orchestrator operations and turns their
// outcome into a chat acknowledgment.
type Dispatcher struct {
	orchestrator Orchestrator
	source       string
}

// NewDispatcher creates a dispatcher answering as source.
func NewDispatcher(orchestrator Orchestrator, source string) *Dispatcher {
	return &Dispatcher{
		orchestrator: orchestrator,
		source:       source,
	}
}

// Dispatch runs the intent and always returns an acknowledgment, failures
// included.
func (d *Dispatcher) Dispatch(ctx context.Context, intent Intent) Response {
	attrs := []any{
		"intent", intent.Name,
		"channel", intent.Event.Channel,
		"user", intent.Event.User,
	}
	if caller := httputil.GetSubject(ctx); caller != "" {
		attrs = append(attrs, "caller", caller)
	}
	ctx, logger := ctxlog.With(ctx, attrs...)
	logger.Info("dispatching intent")

	inc, speech, err := d.run(ctx, intent)

	resp := Response{Source: d.source}
	if inc != nil {
		resp.Data.IncidentID = inc.ID
	}

	if err != nil {
		resp.Speech = failureSpeech(err)
		var partial *incidents.PartialFailureError
		if errors.As(err, &partial) {
			resp.Data.IncidentID = partial.IncidentID
			resp.Data.OperationID = partial.OperationID
		}
		logger.Warn("intent failed", "error", err)
	} else {
		resp.Speech = speech
		resp.Data.Success = true
	}
	resp.DisplayText = resp.Speech

	metrics.WebhookIntents.WithLabelValues(intentLabel(intent.Name), strconv.FormatBool(resp.Data.Success)).Inc()

	return resp
}

// errUnknownIntent is returned for intents the bot does not handle.
var errUnknownIntent = errors.New("unknown intent")

// errNoConversation is returned when a room scoped intent carries no chat event.
var errNoConversation = errors.New("intent has no originating conversation")

func (d *Dispatcher) run(ctx context.Context, intent Intent) (*domain.Incident, string, error) {
	if intent.Name == IntentCreateIncident {
		inc, err := d.orchestrator.CreateIncident(ctx, incidents.CreateIncidentInput{
			Priority:    intent.Parameters["priority"],
			Title:       intent.Parameters["title"],
			Description: intent.Parameters["description"],
		})
		if err != nil {
			return inc, "", err
		}
		return inc, fmt.Sprintf("Incident %d created, join <#%s>.", inc.ID, inc.ChatRoomID), nil
	}

	if !isKnownIntent(intent.Name) {
		return nil, "", fmt.Errorf("%w: %q", errUnknownIntent, intent.Name)
	}
	if intent.Event.Channel == "" {
		return nil, "", errNoConversation
	}

	switch intent.Name {
	case IntentCloseIncident:
		inc, err := d.orchestrator.CloseIncident(ctx, intent.Event)
		if err != nil {
			return inc, "", err
		}
		return inc, fmt.Sprintf("Incident %d is closed.", inc.ID), nil

	case IntentAddUpdate:
		inc, err := d.orchestrator.AddUpdate(ctx, intent.Event, intent.Parameters["message"])
		if err != nil {
			return inc, "", err
		}
		return inc, fmt.Sprintf("Update #%d logged on incident %d.", len(inc.Updates), inc.ID), nil

	case IntentSetDescription:
		inc, err := d.orchestrator.SetDescription(ctx, intent.Event, intent.Parameters["description"])
		if err != nil {
			return inc, "", err
		}
		return inc, fmt.Sprintf("Description of incident %d updated.", inc.ID), nil

	default: // IntentListUpdates
		inc, err := d.orchestrator.ListUpdates(ctx, intent.Event)
		if err != nil {
			return inc, "", err
		}
		return inc, fmt.Sprintf("Incident %d has %d updates.", inc.ID, len(inc.Updates)), nil
	}
}

func isKnownIntent(name string) bool {
	switch name {
	case IntentCreateIncident, IntentCloseIncident, IntentAddUpdate, IntentSetDescription, IntentListUpdates:
		return true
	}
	return false
}

// intentLabel bounds metric cardinality to the handled intents.
func intentLabel(name string) string {
	if isKnownIntent(name) {
		return name
	}
	return "unknown"
}

func failureSpeech(err error) string {
	var validation *domain.ValidationError
	var partial *incidents.PartialFailureError

	switch {
	case errors.As(err, &validation):
		return fmt.Sprintf("Cannot do that: %s.", validation.Error())
	case errors.As(err, &partial):
		return fmt.Sprintf("Incident %d is only partially updated: %s failed. Operation %s needs a manual check.",
			partial.IncidentID, partial.Failed, partial.OperationID)
	case errors.Is(err, errUnknownIntent):
		return "Sorry, I don't know how to do that."
	case errors.Is(err, errNoConversation):
		return "This command must be sent from an incident channel."
	case errors.Is(err, incidents.ErrIncidentNotFound):
		return "No incident is attached to this channel."
	case errors.Is(err, incidents.ErrAmbiguousIncident):
		return "Several incidents are attached to this channel, nothing was changed."
	case errors.Is(err, incidents.ErrRoomNotReady):
		return "This incident has no chat room yet."
	case errors.Is(err, domain.ErrIncidentClosed):
		return "This incident is closed."
	case errors.Is(err, incidents.ErrCollaboratorUnavailable):
		return "An external service is unavailable, nothing was changed. Try again later."
	default:
		return "Something went wrong, nothing was changed."
	}
}
