package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/video2commons/relay/src/types"
)

func testParser() Parser {
	return Parser{
		KeyspaceDB:      1,
		ResultKeyPrefix: "celery-task-meta-",
		NotifPrefix:     "v2cnotif",
	}
}

func TestParseKeyspaceSet(t *testing.T) {
	p := testParser()

	ev, ok := p.ParseKeyspace("__keyspace@1__:celery-task-meta-abc123", "set")
	require.True(t, ok)
	assert.Equal(t, types.KindSet, ev.Kind)
	assert.Equal(t, "abc123", ev.TaskID)
	assert.Nil(t, ev.Data)
}

func TestParseKeyspaceExpired(t *testing.T) {
	p := testParser()

	ev, ok := p.ParseKeyspace("__keyspace@1__:celery-task-meta-abc123", "expired")
	require.True(t, ok)
	assert.Equal(t, types.KindExpired, ev.Kind)
	assert.Equal(t, "abc123", ev.TaskID)
}

func TestParseKeyspaceIgnoresIrrelevant(t *testing.T) {
	p := testParser()

	cases := map[string]struct {
		channel string
		payload string
	}{
		"wrong database":    {"__keyspace@3__:celery-task-meta-abc", "set"},
		"wrong key prefix":  {"__keyspace@1__:session:deadbeef", "set"},
		"empty task id":     {"__keyspace@1__:celery-task-meta-", "set"},
		"uninteresting op":  {"__keyspace@1__:celery-task-meta-abc", "del"},
		"not a keyspace ch": {"v2cnotif:update", "set"},
		"mangled channel":   {"__keyspace@x__:celery-task-meta-abc", "set"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := p.ParseKeyspace(tc.channel, tc.payload)
			assert.False(t, ok)
		})
	}
}

func TestParseNotifAdd(t *testing.T) {
	p := testParser()

	ev, err := p.ParseNotif("v2cnotif:add", `{"taskid":"42","user":"alice"}`)
	require.NoError(t, err)
	assert.Equal(t, types.KindAdd, ev.Kind)
	assert.Equal(t, "42", ev.TaskID)
	assert.Equal(t, "alice", ev.User)
}

func TestParseNotifUpdateWithInlineData(t *testing.T) {
	p := testParser()

	ev, err := p.ParseNotif("v2cnotif:update",
		`{"taskid":"42","data":{"status":"done","progress":100}}`)
	require.NoError(t, err)
	assert.Equal(t, types.KindUpdate, ev.Kind)
	assert.Equal(t, "42", ev.TaskID)
	assert.Equal(t, "done", ev.Data["status"])
	assert.Equal(t, float64(100), ev.Data["progress"])
}

func TestParseNotifRemove(t *testing.T) {
	p := testParser()

	ev, err := p.ParseNotif("v2cnotif:remove", `{"taskid":"42"}`)
	require.NoError(t, err)
	assert.Equal(t, types.KindRemove, ev.Kind)
	assert.Equal(t, "42", ev.TaskID)
}

func TestParseNotifMalformed(t *testing.T) {
	p := testParser()

	cases := map[string]struct {
		channel string
		payload string
	}{
		"bad json":       {"v2cnotif:update", `{"taskid": nope}`},
		"missing taskid": {"v2cnotif:update", `{"user":"alice"}`},
		"unknown type":   {"v2cnotif:explode", `{"taskid":"42"}`},
		"foreign prefix": {"othernotif:update", `{"taskid":"42"}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.ParseNotif(tc.channel, tc.payload)
			assert.Error(t, err)
		})
	}
}

// A malformed payload must not poison the feed: the next valid message still
// parses.
func TestParseNotifRecoversAfterMalformed(t *testing.T) {
	p := testParser()

	_, err := p.ParseNotif("v2cnotif:update", `not json at all`)
	require.Error(t, err)

	ev, err := p.ParseNotif("v2cnotif:update", `{"taskid":"ok"}`)
	require.NoError(t, err)
	assert.Equal(t, "ok", ev.TaskID)
}

func TestNotifPattern(t *testing.T) {
	assert.Equal(t, "v2cnotif:*", testParser().NotifPattern())
}
