package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pumppulse/metrics"
	"pumppulse/models"
	"pumppulse/source"
	"pumppulse/utils"
)

// Supervisor runs one adapter and keeps it alive: Connecting on start,
// Connected once the adapter reports ready, Backoff after any failure,
// then Connecting again after a jittered exponential delay. The attempt
// counter resets on every successful connection. It retries forever
// unless stopped or the adapter reports a fatal error.
type Supervisor struct {
	adapter source.Adapter
	out     chan<- models.RawMessage
	log     *zap.SugaredLogger

	base time.Duration
	max  time.Duration

	state  atomic.Int32
	fatal  chan error
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(adapter source.Adapter, out chan<- models.RawMessage,
	base, max time.Duration, log *zap.SugaredLogger) *Supervisor {

	return &Supervisor{
		adapter: adapter,
		out:     out,
		log:     log,
		base:    base,
		max:     max,
		fatal:   make(chan error, 1),
	}
}

func (s *Supervisor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(runCtx)
}

func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Supervisor) State() models.ConnState {
	return models.ConnState(s.state.Load())
}

// Connected is the only liveness detail exposed to consumers.
func (s *Supervisor) Connected() bool {
	return s.State() == models.StateConnected
}

// Fatal delivers at most one non-retryable adapter error.
func (s *Supervisor) Fatal() <-chan error {
	return s.fatal
}

func (s *Supervisor) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.setState(models.StateDisconnected)

	id := string(s.adapter.ID())
	bo := utils.NewExponentialBackoff(s.base, s.max)

	for {
		s.setState(models.StateConnecting)

		err := s.adapter.Run(ctx, func() {
			s.setState(models.StateConnected)
			bo.Reset()
			s.log.Infow("Source connected", "source", id)
		}, s.out)

		if ctx.Err() != nil {
			return
		}

		if source.IsFatal(err) {
			s.log.Errorw("Source failed permanently", "source", id, "error", err)
			select {
			case s.fatal <- err:
			default:
			}
			return
		}

		delay := bo.NextBackOff()
		s.setState(models.StateBackoff)
		metrics.IncrementReconnects(id)
		s.log.Warnw("Source disconnected, backing off",
			"source", id, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *Supervisor) setState(state models.ConnState) {
	s.state.Store(int32(state))
	metrics.SetConnected(string(s.adapter.ID()), state == models.StateConnected)
}
