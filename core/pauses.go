package core

import (
	"fmt"
	"sort"
	"sync"

	"crestchain/native/bonds"
	"crestchain/native/reserve"
)

// pauseModules lists the module names the operator may pause.
var pauseModules = map[string]struct{}{
	reserve.ModuleName: {},
	bonds.ModuleName:   {},
}

// Pauses is the operator pause switchboard. It satisfies the engines'
// PauseView and may be flipped at runtime, so reads take their own lock
// rather than riding the node's writer lock.
type Pauses struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauses builds the switchboard with the given modules already paused.
func NewPauses(modules ...string) (*Pauses, error) {
	p := &Pauses{paused: make(map[string]bool)}
	for _, m := range modules {
		if err := p.Set(m, true); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// IsPaused reports whether the named module is paused.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[module]
}

// Set flips one module's pause switch. Unknown modules are rejected.
func (p *Pauses) Set(module string, paused bool) error {
	if _, ok := pauseModules[module]; !ok {
		return fmt.Errorf("node: unknown pause module %q", module)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if paused {
		p.paused[module] = true
	} else {
		delete(p.paused, module)
	}
	return nil
}

// Paused lists the currently paused modules, sorted.
func (p *Pauses) Paused() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.paused))
	for m := range p.paused {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
