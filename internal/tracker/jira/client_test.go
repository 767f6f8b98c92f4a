package jira

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Horgix/incidents-automation-app/internal/incidents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{URL: server.URL, Username: "bot", Password: "token"})
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestClient_CreateIssue(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/api/2/issue", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "bot", user)
		assert.Equal(t, "token", pass)

		var body struct {
			Fields struct {
				Project     struct{ Key string }  `json:"project"`
				IssueType   struct{ Name string } `json:"issuetype"`
				Summary     string                `json:"summary"`
				Description string                `json:"description"`
			} `json:"fields"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "INC", body.Fields.Project.Key)
		assert.Equal(t, "Task", body.Fields.IssueType.Name)
		assert.Equal(t, "Database down", body.Fields.Summary)
		assert.Equal(t, "Primary replica unreachable", body.Fields.Description)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"10017","key":"INC-17","self":"http://jira/rest/api/2/issue/10017"}`))
	})

	key, err := client.CreateIssue(context.Background(), "INC", "Task", "Database down", "Primary replica unreachable")
	require.NoError(t, err)
	assert.Equal(t, "INC-17", key)
}

func TestClient_CreateIssue_Failure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.CreateIssue(context.Background(), "INC", "Task", "t", "d")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestClient_AddComment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/api/2/issue/INC-17/comment", r.URL.Path)

		var comment struct {
			Body string `json:"body"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&comment))
		assert.Equal(t, "bob: Mitigated, monitoring", comment.Body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"1","body":"bob: Mitigated, monitoring"}`))
	})

	err := client.AddComment(context.Background(), "INC-17", "bob: Mitigated, monitoring")
	assert.NoError(t, err)
}

func TestClient_TransitionIssue(t *testing.T) {
	tests := []struct {
		name             string
		statusCode       int
		wantErr          bool
		wantNoTransition bool
	}{
		{name: "applied", statusCode: http.StatusNoContent},
		{name: "not available", statusCode: http.StatusBadRequest, wantErr: true, wantNoTransition: true},
		{name: "unauthorized", statusCode: http.StatusUnauthorized, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/rest/api/2/issue/INC-17/transitions", r.URL.Path)

				var body struct {
					Transition struct {
						ID string `json:"id"`
					} `json:"transition"`
				}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "1002", body.Transition.ID)

				w.WriteHeader(tt.statusCode)
			})

			err := client.TransitionIssue(context.Background(), "INC-17", "1002")
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantNoTransition {
				assert.ErrorIs(t, err, incidents.ErrNoSuchTransition)
			} else {
				assert.NotErrorIs(t, err, incidents.ErrNoSuchTransition)
			}
		})
	}
}
