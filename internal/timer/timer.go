// Package timer measures dwell time for one page instance.
//
// A Timer is driven by page signals (visibility, focus, input activity,
// navigation, DOM mutations) and reports session starts and completed
// intervals through an Emitter.
package timer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/runnerr0/dwell/internal/channel"
	"github.com/runnerr0/dwell/internal/logging"
	"github.com/runnerr0/dwell/internal/pageview"
	"github.com/runnerr0/dwell/internal/urlnorm"
)

// State is a Timer lifecycle state.
type State int

const (
	Idle State = iota
	Active
	Paused
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Paused:
		return "paused"
	case Ended:
		return "ended"
	}
	return "unknown"
}

// ActivityKind names a user input event.
type ActivityKind string

const (
	MouseMove ActivityKind = "mousemove"
	Scroll    ActivityKind = "scroll"
	KeyDown   ActivityKind = "keydown"
	Click     ActivityKind = "click"
)

// throttles is the minimum spacing between accepted events of one kind.
var throttles = map[ActivityKind]time.Duration{
	MouseMove: 500 * time.Millisecond,
	Scroll:    250 * time.Millisecond,
	KeyDown:   100 * time.Millisecond,
	Click:     100 * time.Millisecond,
}

const defaultThrottle = 100 * time.Millisecond

// MutationThreshold is how many added plus removed nodes in one batch
// count as a possible route change.
const MutationThreshold = 5

// Defaults for Options.
const (
	DefaultSettingsDelay = 100 * time.Millisecond
	DefaultURLDebounce   = 300 * time.Millisecond
)

// Page exposes the current document.
type Page interface {
	URL() string
	Title() string
	FaviconURL() string
}

// Emitter receives the timer's output. channel.Client satisfies it.
type Emitter interface {
	Activated(ctx context.Context, msg channel.Activated) error
	SessionDelta(ctx context.Context, msg channel.SessionDelta) error
	RequestSettings(ctx context.Context) (pageview.UserSettings, error)
}

// Options configures a Timer.
type Options struct {
	Clock      Clock
	Logger     *slog.Logger
	Normalizer *urlnorm.Normalizer

	// Defaults apply when settings cannot be fetched.
	Defaults      pageview.UserSettings
	SettingsDelay time.Duration
	URLDebounce   time.Duration
	Incognito     bool
}

// Timer is the per-page session state machine. It is safe for concurrent
// use; delayed callbacks and page signals serialize on one lock. Messages
// are queued under that lock and sent after it is released, in order.
type Timer struct {
	page    Page
	emitter Emitter
	clock   Clock
	logger  *slog.Logger
	norm    *urlnorm.Normalizer
	opts    Options

	mu             sync.Mutex
	ctx            context.Context
	state          State
	settings       pageview.UserSettings
	settingsLoaded bool
	url            string
	startTime      int64
	pausedAt       int64
	idlePaused     bool
	visible        bool
	focused        bool
	closed         bool
	lastActivity   map[ActivityKind]time.Time

	idleTimer  Stopper
	idleGen    int
	debounce   Stopper
	settingsAt Stopper

	outbox  []outgoing
	sending bool
}

type outgoing struct {
	activated *channel.Activated
	delta     *channel.SessionDelta
}

// New returns an Idle timer for page.
func New(page Page, emitter Emitter, opts Options) *Timer {
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Normalizer == nil {
		opts.Normalizer = urlnorm.New(urlnorm.Options{})
	}
	if opts.SettingsDelay <= 0 {
		opts.SettingsDelay = DefaultSettingsDelay
	}
	if opts.URLDebounce <= 0 {
		opts.URLDebounce = DefaultURLDebounce
	}
	return &Timer{
		page:         page,
		emitter:      emitter,
		clock:        opts.Clock,
		logger:       logging.OrDiscard(opts.Logger).With("component", "timer"),
		norm:         opts.Normalizer,
		opts:         opts,
		ctx:          context.Background(),
		url:          page.URL(),
		visible:      true,
		focused:      true,
		lastActivity: make(map[ActivityKind]time.Time),
	}
}

// Run schedules the settings fetch. The session starts once settings
// arrive. ctx is used for every message the timer emits.
func (t *Timer) Run(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ctx = ctx
	t.settingsAt = t.clock.AfterFunc(t.opts.SettingsDelay, t.loadSettings)
}

// State returns the current state.
func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Timer) loadSettings() {
	s, err := t.emitter.RequestSettings(t.context())
	if err != nil {
		t.logger.Warn("settings unavailable, using defaults", "error", err)
		s = t.opts.Defaults
	}
	t.ApplySettings(s)
}

func (t *Timer) context() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx
}

// ApplySettings installs s. A session that is no longer allowed ends; an
// allowed page that is in view starts one.
func (t *Timer) ApplySettings(s pageview.UserSettings) {
	t.mu.Lock()
	defer t.unlock()
	t.settings = s
	t.settingsLoaded = true

	if !t.allowed() {
		if t.state == Active || t.state == Paused {
			t.end()
		}
		return
	}
	switch t.state {
	case Idle, Ended:
		if t.visible && t.focused {
			t.start()
		}
	case Active:
		t.armIdle()
	}
}

func (t *Timer) allowed() bool {
	if t.closed || !t.settingsLoaded {
		return false
	}
	return t.settings.Tracking(urlnorm.Hostname(t.url), t.opts.Incognito)
}

// Start begins a session. It is a no-op when one is active or the page
// may not be tracked.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.unlock()
	t.start()
}

func (t *Timer) start() {
	if t.state == Active {
		return
	}
	if !t.allowed() {
		if t.state == Paused {
			t.end()
		}
		return
	}
	now := t.clock.Now().UnixMilli()
	t.state = Active
	t.startTime = now
	t.idlePaused = false

	msg := channel.Activated{
		URL:           t.url,
		NormalizedURL: t.norm.Normalize(t.url),
		Hostname:      urlnorm.Hostname(t.url),
		PageTitle:     t.page.Title(),
		FaviconURL:    t.page.FaviconURL(),
		Timestamp:     now,
	}
	t.outbox = append(t.outbox, outgoing{activated: &msg})
	t.armIdle()
}

// Pause closes the current interval and reports it as a partial delta.
func (t *Timer) Pause() {
	t.mu.Lock()
	defer t.unlock()
	t.pause(true)
}

func (t *Timer) pause(active bool) {
	if t.state != Active {
		return
	}
	now := t.clock.Now().UnixMilli()
	t.emitDelta(pageview.Session{StartTime: t.startTime, EndTime: now, Active: active}, false)
	t.state = Paused
	t.pausedAt = now
	t.startTime = 0
	t.stopIdle()
}

// Resume restarts a paused session.
func (t *Timer) Resume() {
	t.mu.Lock()
	defer t.unlock()
	t.resume()
}

func (t *Timer) resume() {
	if t.state != Paused {
		return
	}
	t.start()
}

// End closes the session and reports a final delta.
func (t *Timer) End() {
	t.mu.Lock()
	defer t.unlock()
	t.end()
}

func (t *Timer) end() {
	switch t.state {
	case Active:
		now := t.clock.Now().UnixMilli()
		t.emitDelta(pageview.Session{StartTime: t.startTime, EndTime: now, Active: true}, true)
	case Paused:
		// Nothing pending; the final marker lets the aggregator drop the tab.
		t.emitDelta(pageview.Session{StartTime: t.pausedAt, EndTime: t.pausedAt}, true)
	default:
		return
	}
	t.state = Ended
	t.startTime = 0
	t.idlePaused = false
	t.stopIdle()
}

func (t *Timer) emitDelta(s pageview.Session, final bool) {
	msg := channel.SessionDelta{
		URL:           t.url,
		NormalizedURL: t.norm.Normalize(t.url),
		SessionData:   s,
		Final:         final,
	}
	t.outbox = append(t.outbox, outgoing{delta: &msg})
}

// unlock releases mu and sends queued messages. Only one caller sends at
// a time; a caller arriving mid-send leaves its messages to that sender.
func (t *Timer) unlock() {
	if t.sending || len(t.outbox) == 0 {
		t.mu.Unlock()
		return
	}
	t.sending = true
	for len(t.outbox) > 0 {
		batch, ctx := t.outbox, t.ctx
		t.outbox = nil
		t.mu.Unlock()
		for _, m := range batch {
			t.deliver(ctx, m)
		}
		t.mu.Lock()
	}
	t.sending = false
	t.mu.Unlock()
}

func (t *Timer) deliver(ctx context.Context, m outgoing) {
	switch {
	case m.activated != nil:
		if err := t.emitter.Activated(ctx, *m.activated); err != nil {
			t.logger.Warn("activated not delivered", "url", m.activated.URL, "error", err)
		}
	case m.delta != nil:
		if err := t.emitter.SessionDelta(ctx, *m.delta); err != nil {
			t.logger.Warn("session delta not delivered", "url", m.delta.URL, "final", m.delta.Final, "error", err)
		}
	}
}

// Unload ends the session for good.
func (t *Timer) Unload() {
	t.mu.Lock()
	defer t.unlock()
	t.end()
	t.closed = true
	for _, s := range []Stopper{t.debounce, t.settingsAt} {
		if s != nil {
			s.Stop()
		}
	}
}

// Visibility handles a page visibility change.
func (t *Timer) Visibility(visible bool) {
	t.mu.Lock()
	defer t.unlock()
	t.visible = visible
	t.onAttention(visible)
}

// Focus handles window focus and blur.
func (t *Timer) Focus(focused bool) {
	t.mu.Lock()
	defer t.unlock()
	t.focused = focused
	t.onAttention(focused)
}

func (t *Timer) onAttention(gained bool) {
	if !gained {
		t.pause(true)
		return
	}
	if !t.visible || !t.focused {
		return
	}
	switch t.state {
	case Paused:
		t.resume()
	case Idle, Ended:
		t.start()
	}
}

// Activity records a user input event. Events closer together than the
// kind's throttle are ignored.
func (t *Timer) Activity(kind ActivityKind) {
	t.mu.Lock()
	defer t.unlock()

	now := t.clock.Now()
	throttle, ok := throttles[kind]
	if !ok {
		throttle = defaultThrottle
	}
	if last, seen := t.lastActivity[kind]; seen && now.Sub(last) < throttle {
		return
	}
	t.lastActivity[kind] = now

	switch {
	case t.state == Paused && t.idlePaused:
		t.resume()
	case t.state == Active:
		t.armIdle()
	}
}

func (t *Timer) armIdle() {
	t.stopIdle()
	if !t.settings.PauseOnInactivity || t.settings.InactivityThresholdMinutes <= 0 {
		return
	}
	t.idleGen++
	gen := t.idleGen
	t.idleTimer = t.clock.AfterFunc(t.settings.InactivityThreshold(), func() { t.onIdle(gen) })
}

func (t *Timer) stopIdle() {
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	t.idleGen++
}

func (t *Timer) onIdle(gen int) {
	t.mu.Lock()
	defer t.unlock()
	if gen != t.idleGen || t.state != Active {
		return
	}
	t.logger.Debug("inactivity timeout", "url", t.url)
	t.pause(false)
	t.idlePaused = true
}

// Navigate reports a history change (pushState, replaceState, popstate or
// hashchange). The URL check is debounced.
func (t *Timer) Navigate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scheduleURLCheck()
}

// Mutation reports a batch of DOM mutations. Only a title change or a
// large batch can signal a route change.
func (t *Timer) Mutation(titleChanged bool, added, removed int) {
	if !titleChanged && added+removed <= MutationThreshold {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scheduleURLCheck()
}

func (t *Timer) scheduleURLCheck() {
	if t.closed {
		return
	}
	if t.debounce != nil {
		t.debounce.Stop()
	}
	t.debounce = t.clock.AfterFunc(t.opts.URLDebounce, t.checkURL)
}

func (t *Timer) checkURL() {
	t.mu.Lock()
	defer t.unlock()
	t.debounce = nil
	if t.closed {
		return
	}

	next := t.page.URL()
	if !t.norm.IsSignificantChange(t.url, next) {
		t.url = next
		return
	}
	t.logger.Debug("route change", "from", t.url, "to", next)

	t.end()
	t.url = next
	if t.visible && t.focused {
		t.start()
	}
}
