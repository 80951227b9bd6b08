package reconcile

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RunFunc performs one catch-up pass.
type RunFunc func(ctx context.Context) error

// Scheduler runs catch-up passes on a jittered interval and on demand.
// At most one pass runs at a time; triggers that arrive during a pass
// coalesce into one follow-up pass.
type Scheduler struct {
	mutex         sync.Mutex
	run           RunFunc
	log           logrus.FieldLogger
	running       bool
	stopChan      chan struct{}
	done          chan struct{}
	trigger       chan struct{}
	baseInterval  time.Duration
	jitterPercent int
	lastRun       time.Time
	lastErr       error
}

// NewScheduler returns a stopped scheduler running run every interval,
// jittered by up to jitterPercent in either direction.
func NewScheduler(run RunFunc, interval time.Duration, jitterPercent int, log logrus.FieldLogger) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if jitterPercent < 0 {
		jitterPercent = 0
	}
	if jitterPercent > 100 {
		jitterPercent = 100
	}
	return &Scheduler{
		run:           run,
		log:           log.WithField("component", "scheduler"),
		baseInterval:  interval,
		jitterPercent: jitterPercent,
		trigger:       make(chan struct{}, 1),
	}
}

// Start begins the schedule. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stopChan, s.done)
}

// Stop halts the schedule and waits for an in-flight pass to observe
// cancellation.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	done := s.done
	s.mutex.Unlock()
	<-done
}

// Trigger requests an immediate pass, e.g. on foreground resume.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// LastRun returns when the last pass finished and its error.
func (s *Scheduler) LastRun() (time.Time, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastRun, s.lastErr
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	for {
		timer := time.NewTimer(s.nextInterval())
		select {
		case <-stop:
			timer.Stop()
			return
		case <-s.trigger:
			timer.Stop()
		case <-timer.C:
		}
		s.perform(ctx)
	}
}

func (s *Scheduler) perform(ctx context.Context) {
	err := s.run(ctx)
	if err != nil && ctx.Err() == nil {
		s.log.WithError(err).Warn("scheduled catch-up failed")
	}
	s.mutex.Lock()
	s.lastRun, s.lastErr = time.Now(), err
	s.mutex.Unlock()
}

// nextInterval returns the base interval with ±jitterPercent random jitter.
func (s *Scheduler) nextInterval() time.Duration {
	interval := s.baseInterval
	maxJitter := int64(float64(interval) * float64(s.jitterPercent) / 100.0)
	if maxJitter <= 0 {
		return interval
	}
	n, err := rand.Int(rand.Reader, big.NewInt(2*maxJitter+1))
	if err != nil {
		return interval
	}
	return interval + time.Duration(n.Int64()-maxJitter)
}
