package webhook

import (
	"fmt"
	"strconv"

	"github.com/Horgix/incidents-automation-app/internal/incidents"
)

// Intent names sent by the conversational agent.
const (
	IntentCreateIncident = "create-incident"
	IntentCloseIncident  = "close-incident"
	IntentAddUpdate      = "add-update"
	IntentSetDescription = "set-description"
	IntentListUpdates    = "list-updates"
)

// Request is an api.ai v1 fulfillment request. Only the fields used to
// dispatch an intent are decoded.
type Request struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"sessionId"`
	Result          Result          `json:"result"`
	OriginalRequest OriginalRequest `json:"originalRequest"`
}

// Result is the agent's interpretation of the user message.
type Result struct {
	ResolvedQuery string         `json:"resolvedQuery"`
	Action        string         `json:"action"`
	Parameters    map[string]any `json:"parameters"`
	Metadata      Metadata       `json:"metadata"`
}

// Metadata identifies the matched intent.
type Metadata struct {
	IntentID   string `json:"intentId"`
	IntentName string `json:"intentName" validate:"required,max=128"`
}

// OriginalRequest carries the chat platform payload that reached the agent.
type OriginalRequest struct {
	Source string `json:"source"`
	Data   struct {
		Event ChatEvent `json:"event"`
	} `json:"data"`
}

// ChatEvent is the chat message that triggered the intent.
type ChatEvent struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	User    string `json:"user"`
	Text    string `json:"text"`
}

// Intent is a decoded request ready for dispatch.
type Intent struct {
	Name       string
	Parameters map[string]string
	Event      incidents.Event
}

// ToIntent flattens the request. Non-string parameters are formatted with
// their default representation.
func (r *Request) ToIntent() Intent {
	params := make(map[string]string, len(r.Result.Parameters))
	for k, v := range r.Result.Parameters {
		params[k] = paramString(v)
	}

	event := r.OriginalRequest.Data.Event
	return Intent{
		Name:       r.Result.Metadata.IntentName,
		Parameters: params,
		Event: incidents.Event{
			Channel: event.Channel,
			User:    event.User,
			Text:    event.Text,
		},
	}
}

func paramString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// Response is the fulfillment reply. The agent relays Speech to the chat.
type Response struct {
	Speech      string       `json:"speech"`
	DisplayText string       `json:"displayText"`
	Source      string       `json:"source"`
	Data        ResponseData `json:"data"`
}

// ResponseData reports the outcome to machine consumers.
type ResponseData struct {
	Success     bool   `json:"success"`
	IncidentID  int    `json:"incident_id,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
}
