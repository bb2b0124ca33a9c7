// Package chat is the websocket side of the live change feed: an
// authenticated connection subscribes to feed topics through its session
// and receives every event as a JSON frame.
package chat

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"moodchat/global"
	"moodchat/logger"
	"moodchat/middleware"
	midsec "moodchat/middleware/security"
	"moodchat/module/feed"
	"moodchat/module/session"
	"moodchat/tools/errs"
	"moodchat/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 5 * time.Second
	maxFrameSize = 4096
	opTimeout    = 5 * time.Second
)

type Options struct {
	AllowOrigins []string
	PingEvery    time.Duration // 服务端 ping 周期，客户端 pong 续期
	Conn         ManagerConf
}

type Gateway struct {
	sessions  *session.Manager
	auth      *midsec.Options
	conns     *ConnManager
	upgrader  websocket.Upgrader
	pingEvery time.Duration
	log       *zap.Logger
}

func NewGateway(sessions *session.Manager, auth *midsec.Options, opts Options) *Gateway {
	if opts.PingEvery <= 0 {
		opts.PingEvery = 30 * time.Second
	}
	allow := opts.AllowOrigins
	return &Gateway{
		sessions: sessions,
		auth:     auth,
		conns:    NewConnManager(opts.Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(allow, r.Header.Get("Origin"))
			},
		},
		pingEvery: opts.PingEvery,
		log:       logger.Named("ws"),
	}
}

func (g *Gateway) Conns() *ConnManager { return g.conns }

func (g *Gateway) Close() { g.conns.Close() }

// Serve 握手前先鉴权（token 放在 query，浏览器握手无法带头）
func (g *Gateway) Serve(c *gin.Context) {
	sess, err := midsec.Authenticate(c, g.auth, g.sessions)
	if err != nil {
		c.AbortWithStatusJSON(errs.HTTPStatus(err), global.FailErr(err))
		return
	}
	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrader 已经写了错误响应
		g.log.Info("upgrade websocket", zap.String("session", sess.ID), zap.Error(err))
		return
	}
	w, err := g.conns.Add(ids.GenerateString(), sess.Profile.ID, sess.ID, ws)
	if err != nil {
		g.log.Warn("register websocket", zap.Error(err))
		closeQuiet(ws)
		return
	}
	// http.Server 的 ReadTimeout 在 hijack 后仍然生效；空闲由 sweeper 负责
	_ = ws.SetReadDeadline(time.Time{})
	ws.SetReadLimit(maxFrameSize)
	ws.SetPongHandler(func(string) error {
		_ = g.conns.Heartbeat(w.ConnID) // 连接可能刚好被清理
		return nil
	})
	g.log.Info("connected", zap.String("conn", w.ConnID), zap.String("profile", w.UserID))

	go g.writeLoop(w)
	go func() {
		select {
		case <-sess.Done():
			g.conns.Remove(w.ConnID, websocket.CloseNormalClosure, "logged out")
		case <-w.Done():
		}
	}()
	g.readLoop(sess, w)
}

func (g *Gateway) writeLoop(w *WsConn) {
	t := time.NewTicker(g.pingEvery)
	defer t.Stop()
	for {
		select {
		case <-w.Done():
			return
		case b := <-w.send:
			if err := writeText(w.Conn, b, writeWait); err != nil {
				g.conns.Remove(w.ConnID, websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-t.C:
			if err := w.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				g.conns.Remove(w.ConnID, websocket.CloseAbnormalClosure, "ping failed")
				return
			}
			g.revalidate(w)
		}
	}
}

// revalidate 续期 presence；会话在别的节点登出后 Touch 会释放本地 session，连接随之关闭
func (g *Gateway) revalidate(w *WsConn) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := g.sessions.Touch(ctx, w.SessionID); err != nil && !errs.ErrTokenInvalid.Is(err) {
		g.log.Warn("touch session", zap.String("conn", w.ConnID), zap.Error(err))
	}
}

// ---- 读循环：只读不写，出错即退出；退出时释放本连接的所有订阅 ----
func (g *Gateway) readLoop(sess *session.Session, w *WsConn) {
	subs := make(map[string]*feed.Subscription)
	defer func() {
		for _, sub := range subs {
			sess.Unsubscribe(sub)
		}
		g.conns.Remove(w.ConnID, websocket.CloseNormalClosure, "")
		g.log.Info("disconnected", zap.String("conn", w.ConnID), zap.Int("released", len(subs)))
	}()

	for {
		mt, data, err := w.Conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				g.log.Debug("peer closed", zap.String("conn", w.ConnID))
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				g.log.Info("read timeout", zap.String("conn", w.ConnID))
			} else {
				g.log.Debug("read error", zap.String("conn", w.ConnID), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = g.conns.Heartbeat(w.ConnID)

		f, err := ParseClientFrame(data)
		if err != nil {
			g.send(w, errorFrame(f, errs.ErrInvalidArgument.WrapMsg("bad frame")))
			continue
		}
		g.send(w, g.handle(sess, w, subs, f))
	}
}

func (g *Gateway) handle(sess *session.Session, w *WsConn, subs map[string]*feed.Subscription, f ClientFrame) ServerFrame {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch f.Op {
	case OpSubscribe:
		if _, ok := subs[f.Topic]; ok {
			return reply(FrameSubscribed, f)
		}
		sub, err := sess.Subscribe(ctx, f.Topic, nil, g.forward(w))
		if err != nil {
			return errorFrame(f, err)
		}
		subs[f.Topic] = sub
		return reply(FrameSubscribed, f)

	case OpUnsubscribe:
		if sub, ok := subs[f.Topic]; ok {
			sess.Unsubscribe(sub)
			delete(subs, f.Topic)
		}
		return reply(FrameUnsubscribed, f)

	case OpPing:
		if err := g.sessions.Touch(ctx, sess.ID); err != nil {
			return errorFrame(f, err)
		}
		return reply(FramePong, f)

	default:
		return errorFrame(f, errs.ErrInvalidArgument.WrapMsg("unknown op", "op", f.Op))
	}
}

// forward 把 feed 事件写入连接的发送队列；hub 对每个订阅串行回调，顺序不变
func (g *Gateway) forward(w *WsConn) feed.Handler {
	return func(ev feed.Event) error {
		b, err := json.Marshal(eventFrame(ev))
		if err != nil {
			return err
		}
		return w.Enqueue(b)
	}
}

func (g *Gateway) send(w *WsConn, f ServerFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		g.log.Error("marshal frame", zap.Error(err))
		return
	}
	if err := w.Enqueue(b); err != nil {
		g.log.Debug("drop frame", zap.String("conn", w.ConnID), zap.Error(err))
	}
}
