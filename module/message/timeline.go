package message

import (
	"sort"
	"sync"
	"time"

	"moodchat/data/database"
	"moodchat/module/chat/model"
	"moodchat/module/feed"
	"moodchat/tools/ids"
)

const tempIDPrefix = "tmp-"

// Entry is one row of a rendered room timeline.
type Entry struct {
	Message     *model.Message
	Provisional bool // 本地乐观插入，尚未被服务端确认
}

// Timeline merges optimistic local sends, history pages and feed inserts for
// one room without duplicating a message. A provisional entry is matched to
// its persisted row by (sender, ClientMsgID); persisted rows are matched by ID.
type Timeline struct {
	mu     sync.Mutex
	roomID string
	selfID string

	confirmed []*Entry // ascending seq
	pending   []*Entry // send order

	byID     map[string]*Entry
	byClient map[string]*Entry
}

func NewTimeline(roomID, selfID string) *Timeline {
	return &Timeline{
		roomID:   roomID,
		selfID:   selfID,
		byID:     make(map[string]*Entry),
		byClient: make(map[string]*Entry),
	}
}

// AddProvisional renders req immediately under a temporary id and returns the
// request to send, carrying the correlation token.
func (t *Timeline) AddProvisional(req AppendRequest) AppendRequest {
	if req.ClientMsgID == "" {
		req.ClientMsgID = ids.NewToken()
	}
	if req.Type == "" {
		req.Type = model.MessageText
	}
	req.RoomID = t.roomID
	req.SenderID = t.selfID

	m := &model.Message{
		ID:          tempIDPrefix + req.ClientMsgID,
		RoomID:      t.roomID,
		SenderID:    t.selfID,
		Body:        req.Body,
		Type:        req.Type,
		Metadata:    req.Metadata,
		ClientMsgID: req.ClientMsgID,
		CreatedAt:   time.Now(),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byClient[clientKey(t.selfID, req.ClientMsgID)]; ok {
		return req
	}
	e := &Entry{Message: m, Provisional: true}
	t.pending = append(t.pending, e)
	t.byClient[clientKey(t.selfID, req.ClientMsgID)] = e
	return req
}

// Confirm replaces the provisional entry with the stored message from Append.
func (t *Timeline) Confirm(m *model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.upsert(m)
}

// Retract drops a provisional entry after its send failed. Confirmed entries stay.
func (t *Timeline) Retract(clientMsgID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := clientKey(t.selfID, clientMsgID)
	e, ok := t.byClient[key]
	if !ok || !e.Provisional {
		return false
	}
	delete(t.byClient, key)
	for i, p := range t.pending {
		if p == e {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}
	return true
}

// Apply merges a message insert from the room feed; other events are ignored.
func (t *Timeline) Apply(ev feed.Event) error {
	if ev.Table != database.TableMessages || ev.Op != feed.OpInsert {
		return nil
	}
	var m model.Message
	if err := ev.Decode(&m); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.upsert(&m)
	return nil
}

// Merge folds a history page (e.g. ListMessages after reconnect) into the timeline.
func (t *Timeline) Merge(history []*model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range history {
		t.upsert(m)
	}
}

// Entries returns confirmed messages in seq order followed by pending sends.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.confirmed)+len(t.pending))
	for _, e := range t.confirmed {
		out = append(out, *e)
	}
	for _, e := range t.pending {
		out = append(out, *e)
	}
	return out
}

// LastSeq is the highest confirmed seq, the resume point for ListOptions.AfterSeq.
func (t *Timeline) LastSeq() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.confirmed) == 0 {
		return 0
	}
	return t.confirmed[len(t.confirmed)-1].Seq()
}

func (e *Entry) Seq() int64 { return e.Message.Seq }

// upsert must be called with t.mu held.
func (t *Timeline) upsert(m *model.Message) {
	if m == nil || m.RoomID != t.roomID {
		return
	}
	if _, ok := t.byID[m.ID]; ok {
		return
	}

	var e *Entry
	if m.ClientMsgID != "" {
		key := clientKey(m.SenderID, m.ClientMsgID)
		if prev, ok := t.byClient[key]; ok {
			if !prev.Provisional {
				return
			}
			e = prev
			for i, p := range t.pending {
				if p == prev {
					t.pending = append(t.pending[:i], t.pending[i+1:]...)
					break
				}
			}
		}
	}
	if e == nil {
		e = &Entry{}
	}
	e.Message = m
	e.Provisional = false

	t.byID[m.ID] = e
	if m.ClientMsgID != "" {
		t.byClient[clientKey(m.SenderID, m.ClientMsgID)] = e
	}

	i := sort.Search(len(t.confirmed), func(i int) bool { return t.confirmed[i].Seq() > m.Seq })
	t.confirmed = append(t.confirmed, nil)
	copy(t.confirmed[i+1:], t.confirmed[i:])
	t.confirmed[i] = e
}

func clientKey(senderID, clientMsgID string) string {
	return senderID + "|" + clientMsgID
}
