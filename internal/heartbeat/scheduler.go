// Package heartbeat contains the session-aware polling loop: it owns
// the device session lifecycle, schedules periodic status polls, and
// hands each observation to the signed reporter.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/linkbeat/internal/freebox"
	"github.com/HerbHall/linkbeat/internal/report"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// State is the scheduler lifecycle state.
type State int32

// Scheduler states. Stopped is re-entrant: Start may be called again.
const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SessionClient opens and closes device sessions.
type SessionClient interface {
	Login(ctx context.Context) (string, error)
	Logout(ctx context.Context, token string) error
}

// StatusFetcher retrieves one WAN snapshot for a session token.
type StatusFetcher interface {
	ConnectionInfo(ctx context.Context, token string) (*freebox.ConnectionInfo, error)
}

// Reporter delivers a heartbeat payload to the collector.
type Reporter interface {
	Send(ctx context.Context, payload any) ([]byte, error)
}

// LatencyProber measures router round-trip latency. Optional.
type LatencyProber interface {
	Latency(ctx context.Context) *float64
}

// authFailurePause is the short back-off after an auth-classified
// iteration failure, before the next scheduled tick retries.
const authFailurePause = 500 * time.Millisecond

// Scheduler polls the router and reports heartbeats on a fixed cadence.
// There is exactly one logical flow of control: iterations never
// overlap, and the session token is touched only from that flow.
type Scheduler struct {
	sessions SessionClient
	fetcher  StatusFetcher
	reporter Reporter
	prober   LatencyProber

	interval       time.Duration
	sessionRefresh time.Duration
	logger         *zap.Logger

	// Injection points for tests.
	now   func() time.Time
	sleep func(time.Duration)

	// loginLimiter caps re-login frequency during auth-failure storms.
	loginLimiter *rate.Limiter

	// Session state, owned by the polling flow (and Stop, after the
	// flow has drained).
	token      string
	lastAuthAt time.Time

	mu          sync.Mutex
	state       State
	lastSuccess time.Time
	stop        chan struct{}
	done        chan struct{}
}

// NewScheduler wires the polling loop. prober may be nil to disable
// latency probing. interval is the poll cadence; sessionRefresh bounds
// how long a cached session token is reused without re-login.
func NewScheduler(sessions SessionClient, fetcher StatusFetcher, reporter Reporter, prober LatencyProber, interval, sessionRefresh time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		sessions:       sessions,
		fetcher:        fetcher,
		reporter:       reporter,
		prober:         prober,
		interval:       interval,
		sessionRefresh: sessionRefresh,
		logger:         logger,
		now:            time.Now,
		sleep:          time.Sleep,
		loginLimiter:   rate.NewLimiter(rate.Every(time.Second), 3),
		state:          StateIdle,
	}
}

// Start runs one poll iteration synchronously, then keeps polling every
// interval in the background. A no-op when already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StateStopping {
		s.mu.Unlock()
		return
	}
	s.state = StateRunning
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("heartbeat scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("session_refresh", s.sessionRefresh),
	)

	s.runOnce()

	go s.loop()
}

// loop re-arms a one-shot timer after each completed iteration, so
// iterations can never overlap.
func (s *Scheduler) loop() {
	defer close(s.done)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-timer.C:
			// A stop racing the timer wins: no further iteration starts.
			select {
			case <-s.stop:
				return
			default:
			}
			s.runOnce()
			timer.Reset(s.interval)
		}
	}
}

// Stop cancels the pending timer, waits for any in-flight iteration to
// finish, logs out best-effort, and clears the session. Blocks until
// done. A no-op unless running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	s.mu.Unlock()

	close(s.stop)
	<-s.done

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.sessions.Logout(ctx, s.token); err != nil {
		// Logout failure is never fatal.
		s.logger.Warn("logout failed", zap.Error(err))
	}
	s.token = ""
	s.lastAuthAt = time.Time{}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	s.logger.Info("heartbeat scheduler stopped")
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastSuccess returns when a heartbeat was last delivered, zero if
// never.
func (s *Scheduler) LastSuccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSuccess
}

// runOnce is the top-level failure boundary: whatever goes wrong inside
// an iteration is logged here and never propagates.
func (s *Scheduler) runOnce() {
	log := s.logger.With(zap.String("iteration", uuid.NewString()))
	ctx := context.Background()

	if err := s.iterate(ctx, log); err != nil {
		heartbeatFailuresTotal.WithLabelValues(failureReason(err)).Inc()

		if errors.Is(err, report.ErrEndpointNotFound) {
			log.Error("collector endpoint misconfigured, not retrying", zap.Error(err))
			return
		}
		log.Error("heartbeat iteration failed", zap.Error(err))

		if IsAuthError(err) {
			// Drop the session so the next tick starts with a fresh
			// login, and back off briefly.
			s.token = ""
			s.lastAuthAt = time.Time{}
			s.sleep(authFailurePause)
		}
		return
	}

	now := s.now()
	s.mu.Lock()
	s.lastSuccess = now
	s.mu.Unlock()
	heartbeatsSentTotal.Inc()
	lastSuccessTimestamp.Set(float64(now.Unix()))
}

// iterate performs one poll: session, fetch (with a single re-auth
// retry), build, deliver.
func (s *Scheduler) iterate(ctx context.Context, log *zap.Logger) error {
	token, err := s.ensureSession(ctx, false)
	if err != nil {
		return err
	}

	info, err := s.fetcher.ConnectionInfo(ctx, token)
	if err != nil {
		if !IsAuthError(err) {
			return err
		}
		log.Warn("status fetch rejected, re-authenticating", zap.Error(err))
		token, err = s.ensureSession(ctx, true)
		if err != nil {
			return err
		}
		info, err = s.fetcher.ConnectionInfo(ctx, token)
		if err != nil {
			return err
		}
	}

	var latency *float64
	if s.prober != nil {
		latency = s.prober.Latency(ctx)
	}

	rec := BuildRecord(info, latency, s.now())
	if _, err := s.reporter.Send(ctx, rec); err != nil {
		return err
	}

	log.Info("heartbeat delivered",
		zap.String("state", rec.State),
		zap.String("media", rec.Media),
	)
	return nil
}

// ensureSession returns the cached session token, logging in first when
// forced, when no token is cached, or when the token has outlived the
// refresh interval. This bounds both stale-token reuse and login
// frequency independent of the poll interval.
func (s *Scheduler) ensureSession(ctx context.Context, force bool) (string, error) {
	if !force && s.token != "" && s.now().Sub(s.lastAuthAt) < s.sessionRefresh {
		return s.token, nil
	}

	if !s.loginLimiter.Allow() {
		return "", fmt.Errorf("login throttled: too many authentication attempts")
	}

	token, err := s.sessions.Login(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.lastAuthAt = s.now()
	loginsTotal.Inc()
	s.logger.Debug("device session refreshed", zap.Bool("forced", force))
	return token, nil
}

// authErrorMarkers identify session or credential failures in error
// text. Substring matching is deliberate: the device API's error
// vocabulary is inconsistent, so typed codes would miss variants. An
// accepted imprecision.
var authErrorMarkers = []string{"auth", "403", "invalid session", "unauthorized"}

// IsAuthError reports whether err looks like a session/credential
// failure rather than a transient network problem.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range authErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// failureReason buckets an iteration error for metrics.
func failureReason(err error) string {
	var dErr *report.DeliveryError
	switch {
	case IsAuthError(err):
		return reasonAuth
	case errors.As(err, &dErr):
		return reasonDeliver
	default:
		return reasonFetch
	}
}
