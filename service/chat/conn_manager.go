package chat

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ErrSlowConsumer = errors.New("websocket send queue full")
	ErrConnClosed   = errors.New("websocket closed")
)

var wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "moodchat",
	Name:      "ws_connections",
	Help:      "Open websocket connections on this node.",
})

// ===== 配置 =====

type ManagerConf struct {
	IdleTTL    time.Duration    // 无心跳多久后关闭（如 90s）
	SweepEvery time.Duration    // 清理周期（如 10s）
	MaxPerUser int              // 每用户最大连接数（<=0 不限制），超限淘汰最老连接
	SendQueue  int              // 每连接发送队列长度
	Clock      func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 90 * time.Second
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
}

// ===== 数据结构 =====

type WsConn struct {
	ConnID    string
	UserID    string
	SessionID string

	Conn   *websocket.Conn
	Remote net.Addr

	CreatedAt time.Time
	Heartbeat time.Time // 最近心跳时间
	ExpireAt  time.Time // 到期时间（过期由 sweeper 关闭）

	send      chan []byte // 每连接独立发送队列，由 writer 协程消费
	done      chan struct{}
	closeOnce sync.Once
}

// Enqueue 非阻塞入队；队列满说明客户端读得太慢，直接断开让它重连补拉
func (w *WsConn) Enqueue(b []byte) error {
	select {
	case <-w.done:
		return ErrConnClosed
	default:
	}
	select {
	case w.send <- b:
		return nil
	case <-w.done:
		return ErrConnClosed
	default:
		w.Close(websocket.ClosePolicyViolation, "slow consumer")
		return ErrSlowConsumer
	}
}

// Close 发送 close 帧并关闭 socket，可重复调用
func (w *WsConn) Close(code int, reason string) {
	w.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = w.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		closeQuiet(w.Conn)
		close(w.done)
	})
}

func (w *WsConn) Done() <-chan struct{} { return w.done }

type ConnManager struct {
	mu     sync.RWMutex
	byID   map[string]*WsConn            // 主索引：connID -> wsConn
	byUser map[string]map[string]*WsConn // 辅助索引：userID -> (connID -> wsConn)

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}
}

// ===== 构造/关闭 =====

func NewConnManager(conf ManagerConf) *ConnManager {
	conf.norm()
	m := &ConnManager{
		byID:   make(map[string]*WsConn),
		byUser: make(map[string]map[string]*WsConn),
		conf:   conf,
		stopCh: make(chan struct{}),
	}
	go m.sweeper()
	return m
}

// Close 停止清理协程并关闭所有连接
func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	all := make([]*WsConn, 0, len(m.byID))
	for _, w := range m.byID {
		all = append(all, w)
	}
	m.byID = map[string]*WsConn{}
	m.byUser = map[string]map[string]*WsConn{}
	m.mu.Unlock()

	for _, w := range all {
		w.Close(websocket.CloseGoingAway, "server shutdown")
		wsConnections.Dec()
	}
}

// Add 登记一条已鉴权连接；超过 MaxPerUser 时挤掉该用户最老的一条
func (m *ConnManager) Add(connID, userID, sessionID string, conn *websocket.Conn) (*WsConn, error) {
	if connID == "" || userID == "" || conn == nil {
		return nil, errors.New("connID/user/conn empty")
	}
	now := m.conf.Clock()
	w := &WsConn{
		ConnID:    connID,
		UserID:    userID,
		SessionID: sessionID,
		Conn:      conn,
		Remote:    conn.RemoteAddr(),
		CreatedAt: now,
		Heartbeat: now,
		ExpireAt:  now.Add(m.conf.IdleTTL),
		send:      make(chan []byte, m.conf.SendQueue),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	if _, exists := m.byID[connID]; exists {
		m.mu.Unlock()
		return nil, errors.New("connID exists")
	}
	evicted := m.evictOldestLocked(userID)
	m.byID[connID] = w
	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[string]*WsConn)
	}
	m.byUser[userID][connID] = w
	m.mu.Unlock()
	wsConnections.Inc()

	if evicted != nil {
		evicted.Close(websocket.ClosePolicyViolation, "too many connections")
	}
	return w, nil
}

func (m *ConnManager) Get(connID string) (*WsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.byID[connID]
	return w, ok
}

// Heartbeat 刷新心跳与到期时间
func (m *ConnManager) Heartbeat(connID string) error {
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.byID[connID]
	if !ok {
		return errors.New("connID not found")
	}
	w.Heartbeat = now
	w.ExpireAt = now.Add(m.conf.IdleTTL)
	return nil
}

// Remove 移除并关闭指定连接；不存在时忽略
func (m *ConnManager) Remove(connID string, code int, reason string) {
	m.mu.Lock()
	w, ok := m.removeLocked(connID)
	m.mu.Unlock()
	if ok {
		w.Close(code, reason)
		wsConnections.Dec()
	}
}

// UserConns 返回用户在本节点的连接数
func (m *ConnManager) UserConns(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[userID])
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// 需要在持锁状态下调用
func (m *ConnManager) removeLocked(connID string) (*WsConn, bool) {
	w, ok := m.byID[connID]
	if !ok {
		return nil, false
	}
	delete(m.byID, connID)
	if mm := m.byUser[w.UserID]; mm != nil {
		delete(mm, connID)
		if len(mm) == 0 {
			delete(m.byUser, w.UserID)
		}
	}
	return w, true
}

// 需要在持锁状态下调用；返回被挤下线的连接，由调用方解锁后关闭
func (m *ConnManager) evictOldestLocked(userID string) *WsConn {
	if m.conf.MaxPerUser <= 0 {
		return nil
	}
	mm := m.byUser[userID]
	if len(mm) < m.conf.MaxPerUser {
		return nil
	}
	var oldest *WsConn
	for _, w := range mm {
		if oldest == nil || w.CreatedAt.Before(oldest.CreatedAt) {
			oldest = w
		}
	}
	if oldest == nil {
		return nil
	}
	m.removeLocked(oldest.ConnID)
	wsConnections.Dec()
	return oldest
}

// ===== 清理协程 =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.sweepOnce(m.conf.Clock())
		}
	}
}

func (m *ConnManager) sweepOnce(now time.Time) int {
	var expired []*WsConn

	m.mu.Lock()
	for id, w := range m.byID {
		if now.After(w.ExpireAt) {
			// 收集后统一关闭，避免持锁期间关闭 socket
			m.removeLocked(id)
			expired = append(expired, w)
		}
	}
	m.mu.Unlock()

	for _, w := range expired {
		w.Close(websocket.CloseGoingAway, "idle timeout")
		wsConnections.Dec()
	}
	return len(expired)
}

// ===== 工具函数 =====

func writeText(conn *websocket.Conn, data []byte, wait time.Duration) error {
	if conn == nil {
		return errors.New("nil conn")
	}
	if err := conn.SetWriteDeadline(time.Now().Add(wait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func closeQuiet(c *websocket.Conn) {
	if c != nil {
		_ = c.Close()
	}
}
