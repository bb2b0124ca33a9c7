// Package mgo keeps a MongoDB connection alive for the process: the first
// connect is retried with backoff, afterwards a ticker pings and reports health.
package mgo

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"moodchat/data/database/mgo/mongoutil"
	"moodchat/logger"

	"go.uber.org/zap"
)

const (
	baseBackoff = 200 * time.Millisecond
	maxBackoff  = 5 * time.Second
	healthEvery = 10 * time.Second // 健康检查周期
	failThresh  = 3                // 连续失败阈值
)

type Manager struct {
	cfg *mongoutil.Config

	mu        sync.RWMutex
	client    *mongoutil.Client
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once

	healthy atomic.Bool
	lastErr atomic.Value // error
}

func NewManager(cfg *mongoutil.Config) *Manager {
	return &Manager{cfg: cfg, readyCh: make(chan struct{})}
}

// StartAsync runs until ctx is done; Ready is closed on the first successful connect.
func (m *Manager) StartAsync(ctx context.Context) {
	go func() {
		cli, ok := m.connect(ctx)
		if !ok {
			return
		}
		m.mu.Lock()
		m.client = cli
		m.mu.Unlock()
		m.healthy.Store(true)
		m.readyOnce.Do(func() { close(m.readyCh) })
		logger.Info("mongo ready", zap.String("database", m.cfg.Database))

		m.watchHealth(ctx, cli)
	}()
}

func (m *Manager) connect(ctx context.Context) (*mongoutil.Client, bool) {
	attempt := 0
	for {
		cli, err := mongoutil.NewMongoDB(ctx, m.cfg)
		if err == nil {
			return cli, true
		}
		m.lastErr.Store(err)
		logger.Warn("mongo connect failed", zap.Int("attempt", attempt), zap.Error(err))

		// 退避 + 抖动
		backoff := baseBackoff << attempt
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		jitter := time.Duration(rand.Int63n(int64(backoff/5) + 1))
		timer := time.NewTimer(backoff - jitter/2)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		case <-timer.C:
		}
		if attempt < 6 {
			attempt++
		}
	}
}

// watchHealth pings periodically; the driver reconnects on its own, so a
// failing node is only reported, never swapped out under the store.
func (m *Manager) watchHealth(ctx context.Context, cli *mongoutil.Client) {
	ticker := time.NewTicker(healthEvery)
	defer ticker.Stop()
	fail := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := cli.Ping(pctx)
			cancel()
			if err == nil {
				fail = 0
				m.healthy.Store(true)
				continue
			}
			fail++
			m.lastErr.Store(err)
			if fail >= failThresh && m.healthy.Swap(false) {
				logger.Error("mongo unhealthy", zap.Int("failures", fail), zap.Error(err))
			}
		}
	}
}

// Ready is closed once the first connection succeeded.
func (m *Manager) Ready() <-chan struct{} {
	return m.readyCh
}

func (m *Manager) WaitReady(ctx context.Context) (*mongoutil.Client, error) {
	select {
	case <-m.readyCh:
	case <-ctx.Done():
		if err := m.Err(); err != nil {
			return nil, fmt.Errorf("mongo not ready: %w", err)
		}
		return nil, ctx.Err()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client, nil
}

func (m *Manager) Healthy() bool {
	return m.healthy.Load()
}

// Err 最近一次错误
func (m *Manager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Close(ctx)
	m.client = nil
	return err
}
