package dispatch

import (
	"github.com/rs/zerolog"

	"github.com/video2commons/relay/src/types"
)

// Rooms is the registry surface the dispatcher needs. The hub implements it.
type Rooms interface {
	Join(room, clientID string) bool
	Members(room string) []string
	ForEachMember(room string, fn func(clientID string))
	ClearRoom(room string)
	Broadcast(room string, msg types.Message)
}

// Fetcher refreshes a single task's state from the backend.
type Fetcher interface {
	StatusSingle(taskID string) (map[string]any, error)
}

// Dispatcher consumes change events and fans them out to task rooms.
// Events are processed one at a time in feed order, which preserves per-task
// ordering; the backend fetch is bounded by the fetcher's timeout, so
// head-of-line blocking across tasks stays short.
type Dispatcher struct {
	rooms   Rooms
	backend Fetcher
	events  <-chan types.ChangeEvent
	logger  zerolog.Logger
	done    chan struct{}
}

// New creates a dispatcher reading from events.
func New(rooms Rooms, backend Fetcher, events <-chan types.ChangeEvent, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		rooms:   rooms,
		backend: backend,
		events:  events,
		logger:  logger.With().Str("component", "dispatch").Logger(),
		done:    make(chan struct{}),
	}
}

// Run consumes events until Stop is called or the event channel closes.
// Call in a goroutine.
func (d *Dispatcher) Run() {
	for {
		select {
		case ev, ok := <-d.events:
			if !ok {
				return
			}
			d.Handle(ev)
		case <-d.done:
			return
		}
	}
}

// Stop halts the dispatch loop.
func (d *Dispatcher) Stop() {
	close(d.done)
}

// Handle applies one change event. Exported so the dispatch contract is
// testable without the run loop.
func (d *Dispatcher) Handle(ev types.ChangeEvent) {
	switch ev.Kind {
	case types.KindAdd:
		d.addTask(ev.TaskID, ev.User)
	case types.KindUpdate, types.KindSet:
		d.updateTask(ev.TaskID, ev.Data)
	case types.KindRemove, types.KindExpired:
		d.removeTask(ev.TaskID)
	default:
		d.logger.Warn().Str("kind", string(ev.Kind)).Msg("unknown change kind")
	}
}

// addTask joins every connection watching the owner's tasks, and every
// global watcher, into the new task's room so later updates reach them
// without a re-auth.
func (d *Dispatcher) addTask(taskID, user string) {
	room := types.TaskRoom(taskID)
	join := func(clientID string) { d.rooms.Join(room, clientID) }
	d.rooms.ForEachMember(types.UserRoom(user), join)
	d.rooms.ForEachMember(types.AllTasksRoom, join)
	d.logger.Debug().Str("taskid", taskID).Str("user", user).Msg("task added")
}

// updateTask broadcasts a task's new state. Inline data goes straight out.
// Without it, the fetch is skipped entirely when nobody is watching; the
// keyspace feed fires for every task mutation and most tasks have no
// viewers connected.
func (d *Dispatcher) updateTask(taskID string, data map[string]any) {
	room := types.TaskRoom(taskID)

	if data == nil {
		if len(d.rooms.Members(room)) == 0 {
			return
		}
		fetched, err := d.backend.StatusSingle(taskID)
		if err != nil {
			// Skip this broadcast; the next mutation or the client's
			// polling fallback corrects the view.
			d.logger.Warn().Err(err).Str("taskid", taskID).Msg("status refresh failed")
			return
		}
		data = fetched
	}

	d.rooms.Broadcast(room, types.Message{
		Event:  types.EventUpdate,
		TaskID: taskID,
		Data:   data,
	})
}

// removeTask tells every viewer the task is gone, then empties its room.
// Safe to re-deliver: clearing an empty room is a no-op.
func (d *Dispatcher) removeTask(taskID string) {
	room := types.TaskRoom(taskID)
	d.rooms.Broadcast(room, types.Message{
		Event:  types.EventRemove,
		TaskID: taskID,
	})
	d.rooms.ClearRoom(room)
}
