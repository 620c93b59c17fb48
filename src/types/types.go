package types

// Room name constants and helpers. Room membership is authorized by the web
// backend; the relay only ever constructs these names, never invents access.
const (
	// AllTasksRoom receives every task event; the backend only lists it in a
	// user's rooms when that user is a sudoer, but add events use it to
	// promote global watchers into new task rooms.
	AllTasksRoom = "alltasks"

	taskRoomPrefix  = "task:"
	tasksRoomPrefix = "tasks:"
)

// TaskRoom returns the room holding all viewers of one task.
func TaskRoom(taskID string) string { return taskRoomPrefix + taskID }

// UserRoom returns the room holding a user's own connections.
func UserRoom(user string) string { return tasksRoomPrefix + user }

// Outbound event names pushed to clients.
const (
	EventStatus = "status"
	EventUpdate = "update"
	EventRemove = "remove"
)

// Message is an outbound WebSocket message. Data carries a *StatusSnapshot
// for status events and the raw task object for updates; remove carries only
// the task id.
type Message struct {
	Event  string `json:"event"`
	TaskID string `json:"taskid,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// AuthRequest is the only inbound message a client may send. Everything else
// is ignored.
type AuthRequest struct {
	Event     string `json:"event"`
	IOSession string `json:"iosession"`
	CSRFToken string `json:"csrf_token"`
}

// StatusSnapshot is the backend's full task-status response for one user.
// Task objects are relayed untyped: the backend owns the task schema and the
// relay must not drop fields the UI depends on.
type StatusSnapshot struct {
	IDs        []string         `json:"ids"`
	Values     []map[string]any `json:"values"`
	HasRunning bool             `json:"hasrunning"`
	SSULink    string           `json:"ssulink,omitempty"`
	Rooms      []string         `json:"rooms"`
	Stats      map[string]any   `json:"stats,omitempty"`
}

// SingleStatus is the backend's single-task refresh response.
type SingleStatus struct {
	Value map[string]any `json:"value"`
}

// ChangeKind tags a normalized task mutation.
type ChangeKind string

const (
	// KindSet is a keyspace set on a task-result key: the task changed but
	// the notification carries no payload.
	KindSet ChangeKind = "set"
	// KindExpired is a keyspace expiry: the task record aged out.
	KindExpired ChangeKind = "expired"
	// KindAdd, KindUpdate and KindRemove come from the explicit notification
	// channel and may carry a user or an inline payload.
	KindAdd    ChangeKind = "add"
	KindUpdate ChangeKind = "update"
	KindRemove ChangeKind = "remove"
)

// ChangeEvent is a normalized task mutation from either feed. Consumed once;
// never persisted.
type ChangeEvent struct {
	Kind   ChangeKind
	TaskID string
	User   string
	Data   map[string]any
}

// MessageHandler handles an inbound client message of one event type.
// Handlers may block on I/O; the hub runs them off its event loop.
type MessageHandler func(clientID string, raw []byte)

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}
