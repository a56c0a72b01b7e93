package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"autobump/internal/eventbus"
	rtsup "autobump/internal/runtime/supervisor"
	kit "autobump/internal/transport"
	logx "autobump/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a digest cron spec.
func ParseSchedule(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	_, err := scheduleParser.Parse(spec)
	return err
}

type job struct {
	text string
	key  string
}

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender kit.Sender
	bus    eventbus.Bus
	snap   Snapshotter

	cfg      Config
	limiter  *rate.Limiter
	notifyOn map[eventbus.AttemptResult]bool

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job
	sup       *rtsup.Supervisor
	unsub     func()
	cron      *cron.Cron
	runCtx    context.Context

	dmu   sync.Mutex
	dedup map[string]time.Time

	tmu   sync.Mutex
	tally map[eventbus.AttemptResult]int

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus, snap Snapshotter) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{
		sender: sender,
		log:    log.With(logx.String("comp", "notifier")),
		bus:    bus,
		snap:   snap,
		dedup:  map[string]time.Time{},
		tally:  map[eventbus.AttemptResult]int{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A changed digest schedule is re-registered; a
// changed Enabled flag takes effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldSpec, oldTZ := s.cfg.DigestSchedule, s.cfg.Timezone
	s.applyLocked(cfg)
	if s.cron != nil && (oldSpec != s.cfg.DigestSchedule || oldTZ != s.cfg.Timezone) {
		s.restartCronLocked()
	}
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if len(cfg.NotifyOn) == 0 {
		cfg.NotifyOn = DefaultNotifyOn
	}
	s.notifyOn = make(map[eventbus.AttemptResult]bool, len(cfg.NotifyOn))
	for _, r := range cfg.NotifyOn {
		s.notifyOn[r] = true
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start subscribes to the bus and starts delivery. It is a no-op when the
// notifier is disabled or has nowhere to send.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	if !s.cfg.Enabled || s.sender == nil || len(s.cfg.Targets) == 0 {
		s.log.Info("notifier not started", logx.Bool("enabled", s.cfg.Enabled), logx.Int("targets", len(s.cfg.Targets)))
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.runCtx = s.sup.Context()
	events, unsub := s.bus.Subscribe(64)
	s.unsub = unsub
	q := s.queue

	s.sup.GoRestart("notifier.worker", func(c context.Context) error {
		s.workerLoop(c, q)
		if c.Err() != nil {
			return c.Err()
		}
		s.mu.Lock()
		stopping := !s.accepting
		s.mu.Unlock()
		if stopping {
			return context.Canceled
		}
		return errors.New("notifier worker exited unexpectedly")
	})
	s.sup.Go0("notifier.events", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				s.handleEvent(c, e)
			}
		}
	})
	s.restartCronLocked()
	s.log.Info("notifier started", logx.Int("targets", len(s.cfg.Targets)), logx.String("digest", s.cfg.DigestSchedule))
}

func (s *Service) restartCronLocked() {
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	spec := strings.TrimSpace(s.cfg.DigestSchedule)
	if spec == "" {
		return
	}
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			s.log.Warn("unknown timezone, using local", logx.String("tz", tz), logx.Err(err))
		}
	}
	c := cron.New(cron.WithParser(scheduleParser), cron.WithLocation(loc))
	ctx := s.runCtx
	if _, err := c.AddFunc(spec, func() {
		if err := s.Notify(ctx, s.Digest(time.Now())); err != nil && !errors.Is(err, ErrStopped) {
			s.log.Warn("digest not queued", logx.Err(err))
		}
	}); err != nil {
		s.log.Warn("invalid digest schedule", logx.String("spec", spec), logx.Err(err))
		return
	}
	c.Start()
	s.cron = c
}

// Stop stops intake and drains the queue until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup, unsub, c := s.queue, s.sup, s.unsub, s.cron
	if q == nil || !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	if unsub != nil {
		unsub()
	}
	s.sendWG.Wait()
	close(q)
	_ = sup.Wait(ctx)
	sup.Cancel()

	s.mu.Lock()
	s.queue = nil
	s.sup = nil
	s.unsub = nil
	s.mu.Unlock()
	s.log.Info("notifier stopped")
}

// Notify queues text for every target.
func (s *Service) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := dedupKey(text)
	if window > 0 && !s.dedupAllow(key, window) {
		s.log.Debug("notification deduped", logx.String("key", key))
		return nil
	}
	select {
	case q <- job{text: text, key: key}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	for _, target := range cfg.Targets {
		var lastErr error
		for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
			if attempt > 0 {
				t := time.NewTimer(retryDelay(cfg, attempt))
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					return
				}
			}
			if err := lim.Wait(ctx); err != nil {
				return
			}
			callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			lastErr = s.sender.SendText(callCtx, target, j.text, &kit.SendOptions{DisablePreview: true})
			cancel()
			if lastErr == nil {
				break
			}
			s.log.Debug("notify send failed", logx.Err(lastErr), logx.Int("attempt", attempt+1), logx.Int64("chat_id", target.ChatID))
		}
		if lastErr != nil {
			s.log.Warn("notification dropped", logx.Err(lastErr), logx.Int64("chat_id", target.ChatID))
			continue
		}
		s.appendHistory(j.text)
	}
}

func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase << (attempt - 1)
	if d <= 0 || d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

func dedupKey(text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(key string, window time.Duration) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now.Add(window)
	return true
}

// Snapshot returns recently delivered messages.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > 100 {
		s.history = s.history[len(s.history)-100:]
	}
	s.hmu.Unlock()
}
