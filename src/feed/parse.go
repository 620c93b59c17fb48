package feed

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/video2commons/relay/src/types"
)

// keyspaceRe matches Redis keyspace-notification channel names,
// __keyspace@<db>__:<key>.
var keyspaceRe = regexp.MustCompile(`^__keyspace@(\d+)__:(.+)$`)

// Parser turns raw feed messages into change events. It is pure and safe for
// concurrent use.
type Parser struct {
	// KeyspaceDB is the only logical database whose keyspace notifications
	// are relevant.
	KeyspaceDB int
	// ResultKeyPrefix identifies task-result keys; the rest of the key is
	// the task id.
	ResultKeyPrefix string
	// NotifPrefix is the notification channel namespace, without the colon.
	NotifPrefix string
}

// NotifPattern returns the subscription pattern for the notification feed.
func (p Parser) NotifPattern() string {
	return p.NotifPrefix + ":*"
}

// ParseKeyspace parses a keyspace-notification message. The payload is the
// mutation action. Messages for other databases, other keys, or actions the
// relay does not care about return ok=false; this feed carries every
// mutation in the instance and almost all of it is noise.
func (p Parser) ParseKeyspace(channel, payload string) (types.ChangeEvent, bool) {
	m := keyspaceRe.FindStringSubmatch(channel)
	if m == nil {
		return types.ChangeEvent{}, false
	}
	db, err := strconv.Atoi(m[1])
	if err != nil || db != p.KeyspaceDB {
		return types.ChangeEvent{}, false
	}
	key := m[2]
	if !strings.HasPrefix(key, p.ResultKeyPrefix) {
		return types.ChangeEvent{}, false
	}
	taskID := key[len(p.ResultKeyPrefix):]
	if taskID == "" {
		return types.ChangeEvent{}, false
	}

	switch payload {
	case "set":
		return types.ChangeEvent{Kind: types.KindSet, TaskID: taskID}, true
	case "expired":
		return types.ChangeEvent{Kind: types.KindExpired, TaskID: taskID}, true
	default:
		return types.ChangeEvent{}, false
	}
}

// notifPayload is the JSON body published on the notification channel.
type notifPayload struct {
	TaskID string         `json:"taskid"`
	User   string         `json:"user"`
	Data   map[string]any `json:"data"`
}

// ParseNotif parses an explicit notification. The channel suffix names the
// event type; the payload is a JSON record.
func (p Parser) ParseNotif(channel, payload string) (types.ChangeEvent, error) {
	suffix, ok := strings.CutPrefix(channel, p.NotifPrefix+":")
	if !ok {
		return types.ChangeEvent{}, fmt.Errorf("channel %q outside notification namespace", channel)
	}

	var kind types.ChangeKind
	switch suffix {
	case "add":
		kind = types.KindAdd
	case "update":
		kind = types.KindUpdate
	case "remove":
		kind = types.KindRemove
	default:
		return types.ChangeEvent{}, fmt.Errorf("unknown notification type %q", suffix)
	}

	var body notifPayload
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		return types.ChangeEvent{}, fmt.Errorf("decode %s notification: %w", suffix, err)
	}
	if body.TaskID == "" {
		return types.ChangeEvent{}, fmt.Errorf("%s notification without taskid", suffix)
	}

	return types.ChangeEvent{
		Kind:   kind,
		TaskID: body.TaskID,
		User:   body.User,
		Data:   body.Data,
	}, nil
}
