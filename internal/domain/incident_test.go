package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 14, 9, 26, 53, 589000000, time.UTC)

func TestNewIncident(t *testing.T) {
	inc, err := NewIncident(17, PriorityRed, "Database down", "Primary replica unreachable", "INC", testNow)
	require.NoError(t, err)

	assert.Equal(t, 17, inc.ID)
	assert.Equal(t, StateOngoing, inc.State)
	assert.Equal(t, PriorityRed, inc.Priority)
	assert.Equal(t, "incident-17", inc.ChatRoomName())
	assert.Equal(t, "INC-17", inc.TrackerIssueKey)
	assert.Empty(t, inc.ChatRoomID)
	assert.Nil(t, inc.ClosingTime)
	assert.Equal(t, testNow.Truncate(time.Second), inc.OpeningTime)
	assert.Empty(t, inc.Updates)
}

func TestNewIncident_Defaults(t *testing.T) {
	inc, err := NewIncident(3, "", "", "", "INC", testNow)
	require.NoError(t, err)

	assert.Equal(t, DefaultTitle, inc.Title)
	assert.Equal(t, DefaultDescription, inc.Description)
	assert.Equal(t, PriorityRed, inc.Priority)
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name            string
		title, desc     string
		wantTitle       string
		wantDescription string
	}{
		{"kept", "Database down", "Replica lag", "Database down", "Replica lag"},
		{"empty", "", "", DefaultTitle, DefaultDescription},
		{"blank", "  ", "\n", DefaultTitle, DefaultDescription},
		{"trimmed", " Database down ", "Replica lag\n", "Database down", "Replica lag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, description := NormalizeText(tt.title, tt.desc)
			assert.Equal(t, tt.wantTitle, title)
			assert.Equal(t, tt.wantDescription, description)
		})
	}
}

func TestNewIncident_InvalidPriority(t *testing.T) {
	_, err := NewIncident(3, Priority("purple"), "t", "d", "INC", testNow)
	require.Error(t, err)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "priority", validationErr.Field)
}

func TestParseIssueKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		want    int
		wantErr bool
	}{
		{name: "valid", key: "INC-17", want: 17},
		{name: "large id", key: "INC-123456", want: 123456},
		{name: "other project", key: "OPS-17", wantErr: true},
		{name: "no suffix", key: "INC-", wantErr: true},
		{name: "non numeric", key: "INC-abc", wantErr: true},
		{name: "empty", key: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIssueKey("INC", tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIncident_Close(t *testing.T) {
	inc, err := NewIncident(1, PriorityOrange, "t", "d", "INC", testNow)
	require.NoError(t, err)

	closedAt := testNow.Add(time.Hour)
	assert.True(t, inc.Close(closedAt))
	assert.Equal(t, StateClosed, inc.State)
	require.NotNil(t, inc.ClosingTime)
	assert.Equal(t, closedAt.Truncate(time.Second), *inc.ClosingTime)

	assert.False(t, inc.Close(closedAt.Add(time.Hour)), "second close must be a no-op")
	assert.Equal(t, closedAt.Truncate(time.Second), *inc.ClosingTime)
}

func TestIncident_MutationsRejectedWhenClosed(t *testing.T) {
	inc, err := NewIncident(1, PriorityOrange, "t", "d", "INC", testNow)
	require.NoError(t, err)
	inc.Close(testNow)

	_, err = inc.AddUpdate("late", nil, testNow)
	assert.ErrorIs(t, err, ErrIncidentClosed)

	err = inc.SetDescription("new")
	assert.ErrorIs(t, err, ErrIncidentClosed)
	assert.Equal(t, "d", inc.Description)
}

func TestIncident_AddUpdateKeepsOrder(t *testing.T) {
	inc, err := NewIncident(1, PriorityRed, "t", "d", "INC", testNow)
	require.NoError(t, err)

	for _, msg := range []string{"first", "second", "third"} {
		_, err := inc.AddUpdate(msg, &Author{ID: "U1", Name: "alice"}, testNow)
		require.NoError(t, err)
	}

	require.Len(t, inc.Updates, 3)
	assert.Equal(t, "first", inc.Updates[0].Message)
	assert.Equal(t, "third", inc.Updates[2].Message)
}

func TestColorFor(t *testing.T) {
	color, err := ColorFor(PriorityOrange)
	require.NoError(t, err)
	assert.Equal(t, "#ffa500", color)

	color, err = ColorFor(PriorityRed)
	require.NoError(t, err)
	assert.Equal(t, "#ff2600", color)

	_, err = ColorFor(Priority("green"))
	assert.ErrorIs(t, err, ErrUnknownPriority)
}

func TestFormatUpdate(t *testing.T) {
	date := time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)

	t.Run("with author", func(t *testing.T) {
		line := FormatUpdate(Update{Message: "Mitigated, monitoring", Author: &Author{ID: "U42", Name: "bob"}, Date: date}, 0)
		assert.Equal(t, "Update #1 (2024-03-14 10:00:00 - <@U42>) - Mitigated, monitoring", line)
	})

	t.Run("without author", func(t *testing.T) {
		line := FormatUpdate(Update{Message: "Rollback started", Date: date}, 4)
		assert.Equal(t, "Update #5 (2024-03-14 10:00:00) - Rollback started", line)
	})

	t.Run("braces in message are kept verbatim", func(t *testing.T) {
		line := FormatUpdate(Update{Message: "{message|}", Date: date}, 0)
		assert.Equal(t, "Update #1 (2024-03-14 10:00:00) - {message|}", line)
	})
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{in: "red", want: PriorityRed},
		{in: "Orange", want: PriorityOrange},
		{in: " RED ", want: PriorityRed},
		{in: "", want: PriorityRed},
		{in: "critical", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			if tt.wantErr {
				var validationErr *ValidationError
				assert.ErrorAs(t, err, &validationErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
