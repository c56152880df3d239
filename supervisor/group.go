package supervisor

import (
	"context"
	"sync"

	"pumppulse/models"
)

// Group owns the process's supervisors and aggregates their fatal
// errors: the first one recorded closes FatalDone, letting every
// attached stream client learn about it, not just one.
type Group struct {
	mu   sync.Mutex
	sups []*Supervisor

	fatalOnce sync.Once
	fatalDone chan struct{}
	fatalErr  error
	wg        sync.WaitGroup
}

func NewGroup() *Group {
	return &Group{
		fatalDone: make(chan struct{}),
	}
}

func (g *Group) Add(s *Supervisor) {
	g.mu.Lock()
	g.sups = append(g.sups, s)
	g.mu.Unlock()
}

func (g *Group) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, s := range g.sups {
		s.Start(ctx)

		g.wg.Add(1)
		go func(s *Supervisor) {
			defer g.wg.Done()
			select {
			case err := <-s.Fatal():
				g.recordFatal(err)
			case <-ctx.Done():
			}
		}(s)
	}
}

func (g *Group) Stop() {
	g.mu.Lock()
	sups := g.sups
	g.mu.Unlock()

	for _, s := range sups {
		s.Stop()
	}
	g.wg.Wait()
}

// FatalDone is closed when any supervisor gives up permanently.
func (g *Group) FatalDone() <-chan struct{} {
	return g.fatalDone
}

func (g *Group) FatalErr() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fatalErr
}

// Connected reports whether any source is currently live.
func (g *Group) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.sups {
		if s.Connected() {
			return true
		}
	}
	return false
}

// States returns the per-source connection state for health reporting.
func (g *Group) States() map[string]models.ConnState {
	g.mu.Lock()
	defer g.mu.Unlock()

	states := make(map[string]models.ConnState, len(g.sups))
	for _, s := range g.sups {
		states[string(s.adapter.ID())] = s.State()
	}
	return states
}

func (g *Group) recordFatal(err error) {
	g.fatalOnce.Do(func() {
		g.mu.Lock()
		g.fatalErr = err
		g.mu.Unlock()
		close(g.fatalDone)
	})
}
