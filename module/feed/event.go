package feed

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event is one change notification on one topic. Data holds the JSON of the
// record after the change (the last known row for deletes).
type Event struct {
	Topic string          `json:"topic"`
	Op    Op              `json:"op"`
	Table string          `json:"table"`
	Key   string          `json:"key"`
	Data  json.RawMessage `json:"data,omitempty"`
	At    time.Time       `json:"at"`
}

// Decode unmarshals the event payload into out.
func (e Event) Decode(out any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s/%s has no data", e.Table, e.Key)
	}
	return json.Unmarshal(e.Data, out)
}

// ID identifies the change independent of which node observed it; relays
// use it to drop the copies emitted by other nodes' change sources.
func (e Event) ID() string {
	h := sha1.New()
	for _, part := range []string{e.Topic, string(e.Op), e.Table, e.Key} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write(e.Data)
	return hex.EncodeToString(h.Sum(nil))
}

// Filter selects which events a subscription receives; nil accepts everything.
type Filter func(Event) bool

// Handler consumes one event. Errors are logged by the hub and never stop the subscription.
type Handler func(Event) error

// Publisher accepts events in commit order. The hub delivers them locally;
// the relay buses forward them to every node's hub.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// OnlyOps builds a filter accepting the listed operations.
func OnlyOps(ops ...Op) Filter {
	return func(e Event) bool {
		for _, op := range ops {
			if e.Op == op {
				return true
			}
		}
		return false
	}
}

// OnlyTable builds a filter accepting events from one table.
func OnlyTable(table string) Filter {
	return func(e Event) bool { return e.Table == table }
}

// Fanout builds one event per topic sharing a single encoded payload.
func Fanout(op Op, table, key string, record any, at time.Time, topics ...string) ([]Event, error) {
	var data json.RawMessage
	if record != nil {
		b, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("encode %s/%s: %w", table, key, err)
		}
		data = b
	}
	out := make([]Event, 0, len(topics))
	for _, t := range topics {
		out = append(out, Event{Topic: t, Op: op, Table: table, Key: key, Data: data, At: at})
	}
	return out, nil
}

// ---- topics ----

type TopicKind string

const (
	KindRoomMessages       TopicKind = "room-messages"
	KindProfileFriendLinks TopicKind = "profile-friend-links"
	KindProfileRooms       TopicKind = "profile-rooms"
)

func RoomMessages(roomID string) string       { return string(KindRoomMessages) + ":" + roomID }
func ProfileFriendLinks(userID string) string { return string(KindProfileFriendLinks) + ":" + userID }
func ProfileRooms(userID string) string       { return string(KindProfileRooms) + ":" + userID }

// ParseTopic splits "kind:id" and validates the kind.
func ParseTopic(topic string) (TopicKind, string, error) {
	kind, id, ok := strings.Cut(topic, ":")
	if !ok || id == "" {
		return "", "", fmt.Errorf("malformed topic %q", topic)
	}
	switch k := TopicKind(kind); k {
	case KindRoomMessages, KindProfileFriendLinks, KindProfileRooms:
		return k, id, nil
	default:
		return "", "", fmt.Errorf("unknown topic kind %q", kind)
	}
}
