package service

import (
	"sync"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
)

// roundGates hands out one RWMutex per round. Score writes take it shared;
// lock, finalize and unlock take it exclusively.
type roundGates struct {
	mu    sync.Mutex
	gates map[model.RoundKey]*sync.RWMutex
}

func newRoundGates() *roundGates {
	return &roundGates{gates: make(map[model.RoundKey]*sync.RWMutex)}
}

func (g *roundGates) get(key model.RoundKey) *sync.RWMutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.gates[key]
	if !ok {
		m = &sync.RWMutex{}
		g.gates[key] = m
	}
	return m
}

func (g *roundGates) shared(key model.RoundKey) func() {
	m := g.get(key)
	m.RLock()
	return m.RUnlock
}

func (g *roundGates) exclusive(key model.RoundKey) func() {
	m := g.get(key)
	m.Lock()
	return m.Unlock
}
