// Package connection wraps one gateway session per bump attempt behind
// blocking calls with timeouts.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"autobump/internal/clock"
	"autobump/internal/disboard"
	"autobump/internal/domain"
	"autobump/internal/gateway"
	"autobump/internal/runtime/supervisor"
	logx "autobump/pkg/logx"
)

var (
	ErrConnectionTimeout = errors.New("connection: session not ready before timeout")
	ErrConnectionClosed  = errors.New("connection: session closed")
	ErrCommandNotFound   = errors.New("connection: bump command not available in channel")
	ErrResponseTimeout   = errors.New("connection: no bump reply before timeout")
	ErrBusy              = errors.New("connection: already connected")
)

// State is the lifecycle position of a Service.
type State int

const (
	Disconnected State = iota
	Connecting
	Ready
	Listening
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Listening:
		return "listening"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// NameKind selects what LookupName resolves.
type NameKind int

const (
	KindAccount NameKind = iota
	KindGuild
	KindChannel
)

type Option func(*Service)

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }
func WithClock(c clock.Clock) Option    { return func(s *Service) { s.clock = c } }

// Service is a blocking facade over one session. It is meant to be used
// by a single caller goroutine; the session's own goroutine only feeds
// the completion slot.
type Service struct {
	dialer gateway.Dialer
	log    logx.Logger
	clock  clock.Clock

	mu    sync.Mutex
	state State
	sess  gateway.Session
	sup   *supervisor.Supervisor
	self  domain.Identity
	lost  chan struct{}

	// correlation; armed for at most one InvokeBump at a time
	armed     bool
	channelID string
	slot      chan domain.Outcome
}

func New(dialer gateway.Dialer, opts ...Option) *Service {
	s := &Service{dialer: dialer, clock: clock.Real()}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "connection"))
	return s
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens a session and blocks until it is ready.
func (s *Service) Connect(ctx context.Context, token string, timeout time.Duration) error {
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return ErrBusy
	}
	s.state = Connecting
	s.mu.Unlock()

	sess, err := s.dial(ctx, token, timeout)
	if err != nil {
		s.setState(Disconnected)
		return err
	}

	select {
	case <-sess.Ready():
	default:
		if err := s.waitReady(ctx, sess, timeout); err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
			_ = sess.Close(closeCtx)
			cancel()
			s.setState(Disconnected)
			return err
		}
	}

	self := sess.Self()
	lost := make(chan struct{})
	sup := supervisor.New(context.Background(), supervisor.WithLogger(s.log))

	s.mu.Lock()
	s.sess = sess
	s.sup = sup
	s.self = self
	s.lost = lost
	s.state = Ready
	s.mu.Unlock()

	sup.Go0("session-watch", func(ctx context.Context) {
		select {
		case <-sess.Done():
			s.sessionEnded(sess, lost)
		case <-ctx.Done():
		}
	})

	s.log.Debug("session ready", logx.String("account_id", self.ID), logx.String("account", self.Name))
	return nil
}

func (s *Service) dial(ctx context.Context, token string, timeout time.Duration) (gateway.Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	sess, err := s.dialer.Dial(dialCtx, token, s.handleMessage)
	if err == nil {
		return sess, nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionTimeout, err)
	}
	return nil, fmt.Errorf("dial: %w", err)
}

func (s *Service) waitReady(ctx context.Context, sess gateway.Session, timeout time.Duration) error {
	select {
	case <-sess.Ready():
		return nil
	case <-sess.Done():
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(timeout):
		select {
		case <-sess.Ready():
			return nil
		default:
		}
		return ErrConnectionTimeout
	}
}

func (s *Service) sessionEnded(sess gateway.Session, lost chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess != sess {
		return
	}
	close(lost)
	if s.state == Disconnecting {
		return
	}
	s.log.Warn("session lost", logx.String("account_id", s.self.ID), logx.String("state", s.state.String()))
	s.state = Disconnected
	s.armed = false
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// active returns the session if it is usable.
func (s *Service) active() (gateway.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil || (s.state != Ready && s.state != Listening) {
		return nil, ErrConnectionClosed
	}
	return s.sess, nil
}

// Self is the authenticated account of the current session.
func (s *Service) Self() (domain.Identity, error) {
	if _, err := s.active(); err != nil {
		return domain.Identity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self, nil
}

// InvokeBump issues the DISBOARD bump command in channelID and arms
// correlation for its reply.
func (s *Service) InvokeBump(ctx context.Context, channelID string) error {
	sess, err := s.active()
	if err != nil {
		return err
	}
	cmds, err := sess.Commands(ctx, channelID)
	if err != nil {
		return fmt.Errorf("list commands in %s: %w", channelID, err)
	}
	cmd, ok := findBump(cmds)
	if !ok {
		return ErrCommandNotFound
	}

	s.mu.Lock()
	s.armed = true
	s.channelID = channelID
	s.slot = make(chan domain.Outcome, 1)
	s.state = Listening
	s.mu.Unlock()

	if err := sess.Invoke(ctx, channelID, cmd); err != nil {
		s.disarm()
		return fmt.Errorf("invoke bump in %s: %w", channelID, err)
	}
	return nil
}

func findBump(cmds []gateway.Command) (gateway.Command, bool) {
	for _, c := range cmds {
		if c.ApplicationID == disboard.ApplicationID && c.Name == disboard.CommandName {
			return c, true
		}
	}
	return gateway.Command{}, false
}

func (s *Service) disarm() {
	s.mu.Lock()
	s.armed = false
	if s.state == Listening {
		s.state = Ready
	}
	s.mu.Unlock()
}

// handleMessage runs on the session goroutine.
func (s *Service) handleMessage(m gateway.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed || !s.correlates(m) {
		return
	}
	s.armed = false
	s.slot <- disboard.Classify(m.Embeds[0].Description, m.GuildID)
}

// correlates must be called with mu held.
func (s *Service) correlates(m gateway.Message) bool {
	switch {
	case m.ChannelID != s.channelID:
		return false
	case m.AuthorID != disboard.BotID:
		return false
	case m.Interaction == nil:
		return false
	case m.Interaction.Name != disboard.CommandName:
		return false
	case s.self.ID == "" || m.Interaction.UserID != s.self.ID:
		return false
	case len(m.Embeds) == 0:
		return false
	}
	return true
}

// AwaitOutcome blocks until the armed bump is answered. ErrResponseTimeout
// and ErrConnectionClosed both mean no result.
func (s *Service) AwaitOutcome(ctx context.Context, timeout time.Duration) (domain.Outcome, error) {
	s.mu.Lock()
	slot, lost := s.slot, s.lost
	s.mu.Unlock()
	if slot == nil {
		return domain.Outcome{}, ErrResponseTimeout
	}
	defer s.disarm()

	select {
	case o := <-slot:
		return o, nil
	default:
	}

	select {
	case o := <-slot:
		return o, nil
	case <-lost:
		return domain.Outcome{}, ErrConnectionClosed
	case <-ctx.Done():
		return domain.Outcome{}, ctx.Err()
	case <-s.clock.After(timeout):
		select {
		case o := <-slot:
			return o, nil
		default:
		}
		return domain.Outcome{}, ErrResponseTimeout
	}
}

// LookupName resolves a display name. Failures are for the caller to log.
func (s *Service) LookupName(ctx context.Context, kind NameKind, id string) (string, error) {
	sess, err := s.active()
	if err != nil {
		return "", err
	}
	switch kind {
	case KindAccount:
		self := sess.Self()
		if self.ID != id {
			return "", fmt.Errorf("account %s: %w", id, gateway.ErrNotFound)
		}
		return self.Name, nil
	case KindGuild:
		return sess.GuildName(ctx, id)
	case KindChannel:
		return sess.ChannelName(ctx, id)
	default:
		return "", fmt.Errorf("unknown name kind %d", kind)
	}
}

// Disconnect closes the session and waits for its watcher to exit.
func (s *Service) Disconnect(timeout time.Duration) error {
	s.mu.Lock()
	sess, sup := s.sess, s.sup
	if sess == nil {
		s.state = Disconnected
		s.mu.Unlock()
		return nil
	}
	s.state = Disconnecting
	s.armed = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := sess.Close(ctx)
	if stopErr := sup.Stop(ctx); err == nil {
		err = stopErr
	}

	s.mu.Lock()
	s.sess = nil
	s.sup = nil
	s.slot = nil
	s.lost = nil
	s.state = Disconnected
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("disconnect did not finish cleanly", logx.Err(err))
	}
	return err
}
