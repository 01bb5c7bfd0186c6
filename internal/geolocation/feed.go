package geolocation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/walk-tracker/internal/calculator"
)

// ErrFeedClosed is returned by Watch after the feed has been closed
var ErrFeedClosed = errors.New("geolocation feed closed")

// Command actions sent to the host that owns the real location service
const (
	ActionWatch      = "watch"
	ActionClearWatch = "clear_watch"
	ActionLocate     = "locate"
)

// Command asks the host to start or stop platform location delivery
type Command struct {
	Action       string  `json:"action"`
	WatchID      WatchID `json:"watchId,omitempty"`
	HighAccuracy bool    `json:"enableHighAccuracy"`
	TimeoutMS    int64   `json:"timeout,omitempty"`
	MaximumAgeMS int64   `json:"maximumAge"`
}

// Notifier forwards commands to the host
type Notifier func(Command)

type feedWatch struct {
	id       WatchID
	onUpdate UpdateFunc
	onError  ErrorFunc
	opts     Options
	timeout  time.Duration
	timer    *time.Timer
}

type fix struct {
	coord calculator.Coordinate
	at    time.Time
}

type locateResult struct {
	coord calculator.Coordinate
	err   error
}

// Feed is a Source whose positions are pushed in by the host, either over the
// websocket, gRPC or a message consumer.
type Feed struct {
	// deliver serializes Push and PushError so watchers see host order
	deliver sync.Mutex

	mu      sync.Mutex
	watches map[WatchID]*feedWatch
	waiters map[chan locateResult]Options
	last    *fix
	closed  bool

	notify Notifier
	now    func() time.Time
}

// NewFeed creates a feed. notify may be nil.
func NewFeed(notify Notifier) *Feed {
	return &Feed{
		watches: make(map[WatchID]*feedWatch),
		waiters: make(map[chan locateResult]Options),
		notify:  notify,
		now:     time.Now,
	}
}

// Push delivers a position to every active watch and pending one-shot query
func (f *Feed) Push(coord calculator.Coordinate) {
	f.deliver.Lock()
	defer f.deliver.Unlock()

	f.mu.Lock()
	f.last = &fix{coord: coord, at: f.now()}
	watches := f.activeLocked()
	for _, w := range watches {
		if w.timer != nil {
			w.timer.Reset(w.timeout)
		}
	}
	f.resolveWaitersLocked(locateResult{coord: coord})
	f.mu.Unlock()

	for _, w := range watches {
		w.onUpdate(coord)
	}
}

// PushError delivers an acquisition error to every active watch and pending query
func (f *Feed) PushError(err error) {
	f.deliver.Lock()
	defer f.deliver.Unlock()

	f.mu.Lock()
	watches := f.activeLocked()
	f.resolveWaitersLocked(locateResult{err: err})
	f.mu.Unlock()

	for _, w := range watches {
		w.onError(err)
	}
}

// CurrentPosition returns the last pushed position when it is younger than
// opts.MaximumAge, otherwise asks the host for a fix and waits for the next push.
func (f *Feed) CurrentPosition(ctx context.Context, opts Options) (calculator.Coordinate, error) {
	f.mu.Lock()
	if f.last != nil && opts.MaximumAge > 0 && f.now().Sub(f.last.at) <= opts.MaximumAge {
		coord := f.last.coord
		f.mu.Unlock()
		return coord, nil
	}
	if f.closed {
		f.mu.Unlock()
		return calculator.Coordinate{}, ErrFeedClosed
	}
	ch := make(chan locateResult, 1)
	f.waiters[ch] = opts
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.waiters, ch)
		f.mu.Unlock()
	}()

	f.emit(newCommand(ActionLocate, "", opts))

	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-ch:
		return res.coord, res.err
	case <-timeout:
		return calculator.Coordinate{}, NewPositionError(Timeout, "position acquisition timed out")
	case <-ctx.Done():
		return calculator.Coordinate{}, ctx.Err()
	}
}

// Watch registers callbacks for pushed positions. When opts.Timeout is set and
// no position arrives within it, onError receives a Timeout error and the timer
// re-arms.
func (f *Feed) Watch(onUpdate UpdateFunc, onError ErrorFunc, opts Options) (WatchID, error) {
	w := &feedWatch{
		id:       WatchID(uuid.NewString()),
		onUpdate: onUpdate,
		onError:  onError,
		opts:     opts,
		timeout:  opts.Timeout,
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return "", ErrFeedClosed
	}
	if w.timeout > 0 {
		w.timer = time.AfterFunc(w.timeout, func() { f.expire(w.id) })
	}
	f.watches[w.id] = w
	f.mu.Unlock()

	log.Debug().Str("watch_id", string(w.id)).Msg("Geolocation watch registered")
	f.emit(newCommand(ActionWatch, w.id, opts))

	return w.id, nil
}

// ClearWatch cancels a watch. Unknown ids are ignored.
func (f *Feed) ClearWatch(id WatchID) {
	f.mu.Lock()
	w, ok := f.watches[id]
	if ok {
		delete(f.watches, id)
		if w.timer != nil {
			w.timer.Stop()
		}
	}
	f.mu.Unlock()

	if !ok {
		return
	}

	log.Debug().Str("watch_id", string(id)).Msg("Geolocation watch cleared")
	f.emit(Command{Action: ActionClearWatch, WatchID: id})
}

// ActiveWatches returns the number of registered watches
func (f *Feed) ActiveWatches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watches)
}

// PendingCommands returns the commands a host connecting now has missed: a
// watch command for every active watch and one locate command while any
// one-shot query is still waiting for a fix
func (f *Feed) PendingCommands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()

	cmds := make([]Command, 0, len(f.watches)+1)
	for _, w := range f.watches {
		cmds = append(cmds, newCommand(ActionWatch, w.id, w.opts))
	}
	for _, opts := range f.waiters {
		cmds = append(cmds, newCommand(ActionLocate, "", opts))
		break
	}
	return cmds
}

// PendingLocates returns the number of one-shot queries waiting for a fix
func (f *Feed) PendingLocates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

// Close drops all watches and rejects new ones
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	for id, w := range f.watches {
		if w.timer != nil {
			w.timer.Stop()
		}
		delete(f.watches, id)
	}
	f.resolveWaitersLocked(locateResult{err: ErrFeedClosed})
}

// expire fires the timeout error for a watch that received nothing in time
func (f *Feed) expire(id WatchID) {
	f.mu.Lock()
	w, ok := f.watches[id]
	if ok {
		w.timer.Reset(w.timeout)
	}
	f.mu.Unlock()

	if ok {
		w.onError(NewPositionError(Timeout, "no position within watch timeout"))
	}
}

func (f *Feed) activeLocked() []*feedWatch {
	watches := make([]*feedWatch, 0, len(f.watches))
	for _, w := range f.watches {
		watches = append(watches, w)
	}
	return watches
}

func (f *Feed) resolveWaitersLocked(res locateResult) {
	for ch := range f.waiters {
		select {
		case ch <- res:
		default:
		}
		delete(f.waiters, ch)
	}
}

func (f *Feed) emit(cmd Command) {
	if f.notify != nil {
		f.notify(cmd)
	}
}

func newCommand(action string, id WatchID, opts Options) Command {
	return Command{
		Action:       action,
		WatchID:      id,
		HighAccuracy: opts.HighAccuracy,
		TimeoutMS:    opts.Timeout.Milliseconds(),
		MaximumAgeMS: opts.MaximumAge.Milliseconds(),
	}
}
