package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Horgix/incidents-automation-app/internal/incidents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// fakeSlack serves Web API methods from canned responses and records the
// form values of every call.
type fakeSlack struct {
	responses map[string]string
	calls     map[string][]map[string][]string
}

func newFakeSlack(t *testing.T, responses map[string]string) (*fakeSlack, *Client) {
	t.Helper()

	fake := &fakeSlack{
		responses: responses,
		calls:     make(map[string][]map[string][]string),
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.TrimPrefix(r.URL.Path, "/")
		require.NoError(t, r.ParseForm())
		fake.calls[method] = append(fake.calls[method], r.Form)

		body, ok := fake.responses[method]
		if !ok {
			body = `{"ok":false,"error":"unknown_method"}`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{Token: "xoxb-test", APIURL: server.URL + "/"})
	require.NoError(t, err)
	client.limiter = rate.NewLimiter(rate.Inf, 1)

	return fake, client
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestClient_CreateRoom(t *testing.T) {
	fake, client := newFakeSlack(t, map[string]string{
		"conversations.create": `{"ok":true,"channel":{"id":"C017","name":"incident-17"}}`,
	})

	room, err := client.CreateRoom(context.Background(), "incident-17")
	require.NoError(t, err)

	assert.Equal(t, incidents.Room{ID: "C017", Name: "incident-17"}, room)
	require.Len(t, fake.calls["conversations.create"], 1)
	assert.Equal(t, "incident-17", fake.calls["conversations.create"][0]["name"][0])
}

func TestClient_CreateRoom_NameTaken(t *testing.T) {
	_, client := newFakeSlack(t, map[string]string{
		"conversations.create": `{"ok":false,"error":"name_taken"}`,
	})

	_, err := client.CreateRoom(context.Background(), "incident-42")
	assert.ErrorIs(t, err, incidents.ErrNameTaken)
}

func TestClient_CreateRoom_OtherError(t *testing.T) {
	_, client := newFakeSlack(t, map[string]string{
		"conversations.create": `{"ok":false,"error":"restricted_action"}`,
	})

	_, err := client.CreateRoom(context.Background(), "incident-42")
	require.Error(t, err)
	assert.NotErrorIs(t, err, incidents.ErrNameTaken)
	assert.Contains(t, err.Error(), "restricted_action")
}

func TestClient_ListRooms_Paginates(t *testing.T) {
	page := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		page++
		w.Header().Set("Content-Type", "application/json")
		if page == 1 {
			assert.Empty(t, r.Form.Get("cursor"))
			_, _ = w.Write([]byte(`{"ok":true,"channels":[{"id":"C001","name":"general"}],"response_metadata":{"next_cursor":"abc"}}`))
			return
		}
		assert.Equal(t, "abc", r.Form.Get("cursor"))
		_, _ = w.Write([]byte(`{"ok":true,"channels":[{"id":"C042","name":"incident-42"}],"response_metadata":{"next_cursor":""}}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{Token: "xoxb-test", APIURL: server.URL + "/"})
	require.NoError(t, err)
	client.limiter = rate.NewLimiter(rate.Inf, 1)

	rooms, err := client.ListRooms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []incidents.Room{
		{ID: "C001", Name: "general"},
		{ID: "C042", Name: "incident-42"},
	}, rooms)
	assert.Equal(t, 2, page)
}

func TestClient_InviteUser(t *testing.T) {
	tests := []struct {
		name              string
		response          string
		wantErr           bool
		wantAlreadyMember bool
	}{
		{name: "invited", response: `{"ok":true,"channel":{"id":"C017"}}`},
		{name: "already in channel", response: `{"ok":false,"error":"already_in_channel"}`, wantErr: true, wantAlreadyMember: true},
		{name: "inviting self", response: `{"ok":false,"error":"cant_invite_self"}`, wantErr: true, wantAlreadyMember: true},
		{name: "unknown user", response: `{"ok":false,"error":"user_not_found"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, client := newFakeSlack(t, map[string]string{
				"conversations.invite": tt.response,
			})

			err := client.InviteUser(context.Background(), "C017", "U42")
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "U42", fake.calls["conversations.invite"][0]["users"][0])
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantAlreadyMember, errors.Is(err, incidents.ErrAlreadyMember))
		})
	}
}

func TestClient_PurposeAndTopic(t *testing.T) {
	fake, client := newFakeSlack(t, map[string]string{
		"conversations.setPurpose": `{"ok":true,"channel":{"id":"C017"}}`,
		"conversations.setTopic":   `{"ok":true,"channel":{"id":"C017"}}`,
		"conversations.join":       `{"ok":true,"channel":{"id":"C017"}}`,
	})

	require.NoError(t, client.JoinRoom(context.Background(), incidents.Room{ID: "C017", Name: "incident-17"}))
	require.NoError(t, client.SetPurpose(context.Background(), "C017", "Incident RED 17 - Incident management room"))
	require.NoError(t, client.SetTopic(context.Background(), "C017", "[RED] Database down"))

	assert.Equal(t, "C017", fake.calls["conversations.join"][0]["channel"][0])
	assert.Equal(t, "Incident RED 17 - Incident management room", fake.calls["conversations.setPurpose"][0]["purpose"][0])
	assert.Equal(t, "[RED] Database down", fake.calls["conversations.setTopic"][0]["topic"][0])
}

func TestClient_PostMessage(t *testing.T) {
	fake, client := newFakeSlack(t, map[string]string{
		"chat.postMessage": `{"ok":true,"channel":"C017","ts":"1710408413.000100"}`,
	})

	err := client.PostMessage(context.Background(), "C017", incidents.Message{
		Attachments: []incidents.Attachment{{
			Text:  "Closing this incident, good job :+1:",
			Color: "good",
			Fields: []incidents.AttachmentField{
				{Title: "State", Value: "Closed", Short: true},
			},
		}},
	})
	require.NoError(t, err)

	require.Len(t, fake.calls["chat.postMessage"], 1)
	form := fake.calls["chat.postMessage"][0]
	assert.Equal(t, "C017", form["channel"][0])
	assert.Equal(t, "true", form["as_user"][0])

	var attachments []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(form["attachments"][0]), &attachments))
	require.Len(t, attachments, 1)
	assert.Equal(t, "good", attachments[0]["color"])
	assert.Equal(t, "Closing this incident, good job :+1:", attachments[0]["text"])
}

func TestClient_ResolveUserAndChannel(t *testing.T) {
	_, client := newFakeSlack(t, map[string]string{
		"users.info":         `{"ok":true,"user":{"id":"U42","name":"bob"}}`,
		"conversations.info": `{"ok":true,"channel":{"id":"C017","name":"incident-17"}}`,
	})

	user, err := client.ResolveUser(context.Background(), "U42")
	require.NoError(t, err)
	assert.Equal(t, incidents.User{ID: "U42", Name: "bob"}, user)

	room, err := client.ResolveChannel(context.Background(), "C017")
	require.NoError(t, err)
	assert.Equal(t, incidents.Room{ID: "C017", Name: "incident-17"}, room)
}

func TestClient_ContextCancellation(t *testing.T) {
	_, client := newFakeSlack(t, map[string]string{})
	client.limiter = rate.NewLimiter(0.001, 1)
	client.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.SetTopic(ctx, "C017", "topic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}
