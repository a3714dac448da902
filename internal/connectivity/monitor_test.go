package connectivity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shenikar/field_incident_sync/pkg/logger"
	"github.com/stretchr/testify/assert"
)

type switchProber struct {
	down atomic.Bool
}

func (p *switchProber) Ping(context.Context) error {
	if p.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func TestMonitor_NotifiesOnTransitionToOnline(t *testing.T) {
	prober := &switchProber{}
	prober.down.Store(true)
	m := NewMonitor(prober, time.Minute, time.Second, logger.Discard())

	var calls int
	m.OnOnline(func() { calls++ })

	assert.False(t, m.Check(context.Background()))
	assert.False(t, m.IsOnline())
	assert.Equal(t, 0, calls)

	prober.down.Store(false)
	assert.True(t, m.Check(context.Background()))
	assert.True(t, m.IsOnline())
	assert.Equal(t, 1, calls)

	// Повторная успешная проверка не является переходом
	m.Check(context.Background())
	assert.Equal(t, 1, calls)

	prober.down.Store(true)
	m.Check(context.Background())
	prober.down.Store(false)
	m.Check(context.Background())
	assert.Equal(t, 2, calls)
}

func TestMonitor_Unsubscribe(t *testing.T) {
	prober := &switchProber{}
	m := NewMonitor(prober, time.Minute, time.Second, logger.Discard())

	var calls int
	unsubscribe := m.OnOnline(func() { calls++ })
	unsubscribe()

	m.Check(context.Background())

	assert.True(t, m.IsOnline())
	assert.Equal(t, 0, calls)
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	prober := &switchProber{}
	m := NewMonitor(prober, 10*time.Millisecond, time.Second, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	assert.Eventually(t, m.IsOnline, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
