// Package connectivity следит за доступностью удалённого сервиса инцидентов.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Prober проверка связи с удалённым сервисом
type Prober interface {
	Ping(ctx context.Context) error
}

// Monitor периодически опрашивает Prober и сообщает о восстановлении связи
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	logger   *logrus.Logger

	mu          sync.RWMutex
	online      bool
	subscribers map[int]func()
	nextSubID   int
}

func NewMonitor(prober Prober, interval, timeout time.Duration, logger *logrus.Logger) *Monitor {
	return &Monitor{
		prober:      prober,
		interval:    interval,
		timeout:     timeout,
		logger:      logger,
		subscribers: make(map[int]func()),
	}
}

// IsOnline последнее известное состояние связи. До первой проверки false.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// OnOnline вызывает fn при каждом переходе offline -> online. Возвращает функцию отписки.
func (m *Monitor) OnOnline(fn func()) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			m.mu.Unlock()
		})
	}
}

// Check выполняет одну проверку и обновляет состояние
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.prober.Ping(probeCtx)
	cancel()
	online := err == nil

	m.mu.Lock()
	cameOnline := online && !m.online
	wentOffline := !online && m.online
	m.online = online
	var handlers []func()
	if cameOnline {
		handlers = make([]func(), 0, len(m.subscribers))
		for _, fn := range m.subscribers {
			handlers = append(handlers, fn)
		}
	}
	m.mu.Unlock()

	switch {
	case cameOnline:
		m.logger.Info("Remote service is reachable, connectivity restored")
	case wentOffline:
		m.logger.WithError(err).Warn("Remote service is unreachable, working offline")
	}
	for _, fn := range handlers {
		fn()
	}
	return online
}

// Run проверяет связь сразу и затем с заданным интервалом до отмены ctx
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
