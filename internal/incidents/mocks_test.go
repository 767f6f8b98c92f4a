package incidents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Horgix/incidents-automation-app/internal/domain"
)

// callLog records collaborator calls in order across all fakes.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// indexOf returns the position of the first call, -1 if absent.
func (l *callLog) indexOf(call string) int {
	for i, c := range l.all() {
		if c == call {
			return i
		}
	}
	return -1
}

// mockTracker implements IssueTracker for testing.
type mockTracker struct {
	log           *callLog
	issueKey      string
	createErr     error
	commentErr    error
	transitionErr error
	afterCreate   func() // runs once the issue exists

	created     []string
	comments    map[string][]string
	transitions map[string][]string
}

func newMockTracker(log *callLog, issueKey string) *mockTracker {
	return &mockTracker{
		log:         log,
		issueKey:    issueKey,
		comments:    make(map[string][]string),
		transitions: make(map[string][]string),
	}
}

func (m *mockTracker) CreateIssue(_ context.Context, project, _, summary, _ string) (string, error) {
	m.log.add("tracker.create_issue")
	if m.createErr != nil {
		return "", m.createErr
	}
	m.created = append(m.created, project+":"+summary)
	if m.afterCreate != nil {
		m.afterCreate()
	}
	return m.issueKey, nil
}

func (m *mockTracker) AddComment(_ context.Context, issueKey, text string) error {
	m.log.add("tracker.add_comment")
	if m.commentErr != nil {
		return m.commentErr
	}
	m.comments[issueKey] = append(m.comments[issueKey], text)
	return nil
}

func (m *mockTracker) TransitionIssue(_ context.Context, issueKey, transitionID string) error {
	m.log.add("tracker.transition_issue")
	if m.transitionErr != nil {
		return m.transitionErr
	}
	m.transitions[issueKey] = append(m.transitions[issueKey], transitionID)
	return nil
}

type postedMessage struct {
	RoomID  string
	Message Message
}

// mockChat implements ChatService for testing. Like the Slack client, room
// creation and posting fail on a done context.
type mockChat struct {
	log       *callLog
	rooms     []Room
	users     map[string]User
	nextID    string
	createErr error
	listErr   error
	joinErr   error
	inviteErr map[string]error
	postErr   error
	userErr   error

	joined   []string
	invited  []string
	purposes map[string]string
	topics   map[string]string
	posts    []postedMessage
}

func newMockChat(log *callLog) *mockChat {
	return &mockChat{
		log:       log,
		users:     make(map[string]User),
		inviteErr: make(map[string]error),
		purposes:  make(map[string]string),
		topics:    make(map[string]string),
	}
}

func (m *mockChat) CreateRoom(ctx context.Context, name string) (Room, error) {
	m.log.add("chat.create_room")
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}
	if m.createErr != nil {
		return Room{}, m.createErr
	}
	id := m.nextID
	if id == "" {
		id = "C" + name
	}
	room := Room{ID: id, Name: name}
	m.rooms = append(m.rooms, room)
	return room, nil
}

func (m *mockChat) ListRooms(_ context.Context) ([]Room, error) {
	m.log.add("chat.list_rooms")
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.rooms, nil
}

func (m *mockChat) JoinRoom(_ context.Context, room Room) error {
	m.log.add("chat.join_room")
	if m.joinErr != nil {
		return m.joinErr
	}
	m.joined = append(m.joined, room.ID)
	return nil
}

func (m *mockChat) InviteUser(_ context.Context, roomID, userID string) error {
	m.log.add("chat.invite_user")
	if err := m.inviteErr[userID]; err != nil {
		return err
	}
	m.invited = append(m.invited, roomID+":"+userID)
	return nil
}

func (m *mockChat) SetPurpose(_ context.Context, roomID, text string) error {
	m.log.add("chat.set_purpose")
	m.purposes[roomID] = text
	return nil
}

func (m *mockChat) SetTopic(_ context.Context, roomID, text string) error {
	m.log.add("chat.set_topic")
	m.topics[roomID] = text
	return nil
}

func (m *mockChat) PostMessage(ctx context.Context, roomID string, msg Message) error {
	m.log.add("chat.post_message")
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.postErr != nil {
		return m.postErr
	}
	m.posts = append(m.posts, postedMessage{RoomID: roomID, Message: msg})
	return nil
}

func (m *mockChat) ResolveUser(_ context.Context, userID string) (User, error) {
	m.log.add("chat.resolve_user")
	if m.userErr != nil {
		return User{}, m.userErr
	}
	user, ok := m.users[userID]
	if !ok {
		return User{}, fmt.Errorf("user_not_found: %s", userID)
	}
	return user, nil
}

func (m *mockChat) ResolveChannel(_ context.Context, channelID string) (Room, error) {
	m.log.add("chat.resolve_channel")
	for _, r := range m.rooms {
		if r.ID == channelID {
			return r, nil
		}
	}
	return Room{ID: channelID, Name: channelID}, nil
}

func (m *mockChat) postsTo(roomID string) []Message {
	var msgs []Message
	for _, p := range m.posts {
		if p.RoomID == roomID {
			msgs = append(msgs, p.Message)
		}
	}
	return msgs
}

// mockStore implements SearchStore for testing.
type mockStore struct {
	log       *callLog
	docs      map[string]map[string][]byte
	writes    [][]byte
	failWrite int // number of IndexDocument calls to fail before succeeding
	writeErr  error
	queryErr  error
	ensureErr error

	ensureCalls int
}

func newMockStore(log *callLog) *mockStore {
	return &mockStore{
		log:  log,
		docs: make(map[string]map[string][]byte),
	}
}

func (m *mockStore) EnsureIndex(_ context.Context, index string) error {
	m.log.add("store.ensure_index")
	m.ensureCalls++
	if m.ensureErr != nil {
		return m.ensureErr
	}
	if _, ok := m.docs[index]; !ok {
		m.docs[index] = make(map[string][]byte)
	}
	return nil
}

func (m *mockStore) IndexDocument(_ context.Context, index, id string, body []byte) error {
	m.log.add("store.index")
	if m.failWrite > 0 {
		m.failWrite--
		return fmt.Errorf("connection reset")
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	if _, ok := m.docs[index]; !ok {
		m.docs[index] = make(map[string][]byte)
	}
	m.docs[index][id] = body
	m.writes = append(m.writes, body)
	return nil
}

func (m *mockStore) RefreshIndex(_ context.Context, _ string) error {
	return nil
}

func (m *mockStore) Query(_ context.Context, index string, filter Filter) ([][]byte, error) {
	m.log.add("store.query")
	if m.queryErr != nil {
		return nil, m.queryErr
	}

	ids := make([]string, 0, len(m.docs[index]))
	for id := range m.docs[index] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var result [][]byte
	for _, id := range ids {
		doc := m.docs[index][id]
		var fields map[string]interface{}
		if err := json.Unmarshal(doc, &fields); err != nil {
			return nil, err
		}
		if fmt.Sprint(fields[filter.Field]) == filter.Value {
			result = append(result, doc)
		}
	}
	return result, nil
}

// mockStatusPage implements StatusPage for testing.
type mockStatusPage struct {
	id       string
	err      error
	declared []int
}

func (m *mockStatusPage) DeclareIncident(_ context.Context, inc *domain.Incident) (string, error) {
	m.declared = append(m.declared, inc.ID)
	return m.id, m.err
}
