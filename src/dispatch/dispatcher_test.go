package dispatch

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/video2commons/relay/src/types"
)

// fakeRooms is an in-memory room registry recording broadcasts.
type fakeRooms struct {
	rooms     map[string]map[string]bool
	broadcast []types.Message
	toRoom    []string
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{rooms: make(map[string]map[string]bool)}
}

func (f *fakeRooms) Join(room, clientID string) bool {
	if f.rooms[room] == nil {
		f.rooms[room] = make(map[string]bool)
	}
	f.rooms[room][clientID] = true
	return true
}

func (f *fakeRooms) Members(room string) []string {
	ids := make([]string, 0, len(f.rooms[room]))
	for id := range f.rooms[room] {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeRooms) ForEachMember(room string, fn func(clientID string)) {
	for _, id := range f.Members(room) {
		fn(id)
	}
}

func (f *fakeRooms) ClearRoom(room string) {
	delete(f.rooms, room)
}

func (f *fakeRooms) Broadcast(room string, msg types.Message) {
	f.toRoom = append(f.toRoom, room)
	f.broadcast = append(f.broadcast, msg)
}

// fakeFetcher counts StatusSingle calls.
type fakeFetcher struct {
	value map[string]any
	err   error
	calls int
}

func (f *fakeFetcher) StatusSingle(taskID string) (map[string]any, error) {
	f.calls++
	return f.value, f.err
}

func newDispatcher(rooms *fakeRooms, fetcher *fakeFetcher) *Dispatcher {
	return New(rooms, fetcher, make(chan types.ChangeEvent), zerolog.Nop())
}

func TestAddJoinsUserAndGlobalWatchers(t *testing.T) {
	rooms := newFakeRooms()
	rooms.Join("tasks:alice", "a1")
	rooms.Join("tasks:alice", "a2")
	rooms.Join("alltasks", "admin")
	rooms.Join("tasks:bob", "b1")

	d := newDispatcher(rooms, &fakeFetcher{})
	d.Handle(types.ChangeEvent{Kind: types.KindAdd, TaskID: "42", User: "alice"})

	members := rooms.Members("task:42")
	assert.ElementsMatch(t, []string{"a1", "a2", "admin"}, members)
}

func TestUpdateWithInlineDataSkipsFetch(t *testing.T) {
	rooms := newFakeRooms()
	rooms.Join("task:42", "c1")
	fetcher := &fakeFetcher{}

	d := newDispatcher(rooms, fetcher)
	d.Handle(types.ChangeEvent{
		Kind:   types.KindUpdate,
		TaskID: "42",
		Data:   map[string]any{"status": "done"},
	})

	assert.Zero(t, fetcher.calls, "inline data must not trigger a backend fetch")
	require.Len(t, rooms.broadcast, 1)
	assert.Equal(t, "task:42", rooms.toRoom[0])
	assert.Equal(t, types.EventUpdate, rooms.broadcast[0].Event)
	assert.Equal(t, "42", rooms.broadcast[0].TaskID)
}

func TestUpdateEmptyRoomSkipsFetchEntirely(t *testing.T) {
	rooms := newFakeRooms()
	fetcher := &fakeFetcher{value: map[string]any{"status": "progress"}}

	d := newDispatcher(rooms, fetcher)
	d.Handle(types.ChangeEvent{Kind: types.KindSet, TaskID: "42"})

	assert.Zero(t, fetcher.calls, "no members means no fetch")
	assert.Empty(t, rooms.broadcast)
}

func TestUpdateWithMembersFetchesAndBroadcasts(t *testing.T) {
	rooms := newFakeRooms()
	rooms.Join("task:42", "c1")
	fetcher := &fakeFetcher{value: map[string]any{"status": "progress", "progress": float64(40)}}

	d := newDispatcher(rooms, fetcher)
	d.Handle(types.ChangeEvent{Kind: types.KindSet, TaskID: "42"})

	assert.Equal(t, 1, fetcher.calls)
	require.Len(t, rooms.broadcast, 1)
	assert.Equal(t, types.EventUpdate, rooms.broadcast[0].Event)
	data, ok := rooms.broadcast[0].Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "progress", data["status"])
}

func TestUpdateFetchFailureDropsBroadcast(t *testing.T) {
	rooms := newFakeRooms()
	rooms.Join("task:42", "c1")
	fetcher := &fakeFetcher{err: errors.New("backend unreachable")}

	d := newDispatcher(rooms, fetcher)
	d.Handle(types.ChangeEvent{Kind: types.KindSet, TaskID: "42"})

	assert.Equal(t, 1, fetcher.calls)
	assert.Empty(t, rooms.broadcast, "failed refresh must not broadcast")
}

func TestRemoveBroadcastsThenEmptiesRoom(t *testing.T) {
	rooms := newFakeRooms()
	rooms.Join("task:abc123", "c1")
	rooms.Join("task:abc123", "c2")

	d := newDispatcher(rooms, &fakeFetcher{})
	d.Handle(types.ChangeEvent{Kind: types.KindRemove, TaskID: "abc123"})

	require.Len(t, rooms.broadcast, 1)
	assert.Equal(t, types.EventRemove, rooms.broadcast[0].Event)
	assert.Equal(t, "abc123", rooms.broadcast[0].TaskID)
	assert.Empty(t, rooms.Members("task:abc123"))
}

func TestExpiredBehavesLikeRemove(t *testing.T) {
	rooms := newFakeRooms()
	rooms.Join("task:abc123", "c1")

	d := newDispatcher(rooms, &fakeFetcher{})
	d.Handle(types.ChangeEvent{Kind: types.KindExpired, TaskID: "abc123"})

	require.Len(t, rooms.broadcast, 1)
	assert.Equal(t, types.EventRemove, rooms.broadcast[0].Event)
	assert.Empty(t, rooms.Members("task:abc123"))
}

func TestRemoveIsIdempotent(t *testing.T) {
	rooms := newFakeRooms()
	rooms.Join("task:9", "c1")

	d := newDispatcher(rooms, &fakeFetcher{})
	d.Handle(types.ChangeEvent{Kind: types.KindRemove, TaskID: "9"})
	d.Handle(types.ChangeEvent{Kind: types.KindRemove, TaskID: "9"})

	assert.Empty(t, rooms.Members("task:9"))
	// The second delivery still emits a remove broadcast, which members-less
	// rooms turn into a no-op.
	assert.Len(t, rooms.broadcast, 2)
}

func TestAddThenInlineUpdateReachesPromotedWatchers(t *testing.T) {
	rooms := newFakeRooms()
	rooms.Join("tasks:alice", "a1")
	rooms.Join("alltasks", "admin")
	rooms.Join("tasks:bob", "b1")

	d := newDispatcher(rooms, &fakeFetcher{})
	d.Handle(types.ChangeEvent{Kind: types.KindAdd, TaskID: "T", User: "alice"})
	d.Handle(types.ChangeEvent{
		Kind:   types.KindUpdate,
		TaskID: "T",
		Data:   map[string]any{"status": "done"},
	})

	require.Len(t, rooms.broadcast, 1)
	assert.Equal(t, "task:T", rooms.toRoom[0])
	assert.ElementsMatch(t, []string{"a1", "admin"}, rooms.Members("task:T"))
}
