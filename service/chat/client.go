package chat

import (
	"encoding/json"

	"moodchat/global"
	"moodchat/module/feed"
)

// 客户端 -> 服务端
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPing        = "ping"
)

// 服务端 -> 客户端
const (
	FrameEvent        = "event"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FramePong         = "pong"
	FrameError        = "error"
)

// ClientFrame is what a client sends. ID is echoed back on the reply.
type ClientFrame struct {
	Op    string `json:"op"`
	Topic string `json:"topic,omitempty"`
	ID    string `json:"id,omitempty"`
}

type ServerFrame struct {
	Op    string      `json:"op"`
	ID    string      `json:"id,omitempty"`
	Topic string      `json:"topic,omitempty"`
	Event *feed.Event `json:"event,omitempty"`
	Code  int         `json:"code,omitempty"`
	Msg   string      `json:"msg,omitempty"`
}

func ParseClientFrame(raw []byte) (ClientFrame, error) {
	var f ClientFrame
	err := json.Unmarshal(raw, &f)
	return f, err
}

func reply(typ string, f ClientFrame) ServerFrame {
	return ServerFrame{Op: typ, ID: f.ID, Topic: f.Topic}
}

func errorFrame(f ClientFrame, err error) ServerFrame {
	m := global.FailErr(err)
	out := reply(FrameError, f)
	out.Code = m.Code
	out.Msg = m.Msg
	if d, ok := m.Data.(string); ok && d != "" {
		out.Msg += ": " + d
	}
	return out
}

func eventFrame(ev feed.Event) ServerFrame {
	return ServerFrame{Op: FrameEvent, Topic: ev.Topic, Event: &ev}
}
