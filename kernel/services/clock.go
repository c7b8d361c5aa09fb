package services

import "sync"

// Clock es la fuente de tiempo del kernel, en milisegundos desde el arranque.
type Clock interface {
	NowMs() uint64
}

// StubClock no tiene temporizador detrás: siempre retorna 0.
type StubClock struct{}

func (StubClock) NowMs() uint64 { return 0 }

// ManualClock avanza sólo cuando se le indica. Lo usan los tests y TimerTick.
type ManualClock struct {
	mu  sync.Mutex
	now uint64
}

func NewManualClock(start uint64) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) NowMs() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Advance adelanta el reloj ms milisegundos y retorna la nueva hora.
func (c *ManualClock) Advance(ms uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now += ms
	return c.now
}
