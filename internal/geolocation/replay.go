package geolocation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/walk-tracker/internal/calculator"
	"github.com/stuartshay/walk-tracker/internal/database"
)

// LocationStore is the recorded-fix store a Replay reads from
type LocationStore interface {
	GetLocationsByDate(ctx context.Context, date string, deviceID string) ([]database.Location, error)
}

// Replay is a Source that plays back the recorded fixes of one day at a fixed
// pace. Each watch replays the track from its beginning.
type Replay struct {
	store    LocationStore
	date     string
	deviceID string
	interval time.Duration

	mu      sync.Mutex
	watches map[WatchID]context.CancelFunc
	wg      sync.WaitGroup
}

// NewReplay creates a replay source for a date (YYYY-MM-DD) and optional device
func NewReplay(store LocationStore, date, deviceID string, interval time.Duration) *Replay {
	if interval <= 0 {
		interval = time.Second
	}
	return &Replay{
		store:    store,
		date:     date,
		deviceID: deviceID,
		interval: interval,
		watches:  make(map[WatchID]context.CancelFunc),
	}
}

// CurrentPosition returns the first recorded fix of the day
func (r *Replay) CurrentPosition(ctx context.Context, opts Options) (calculator.Coordinate, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	locations, err := r.store.GetLocationsByDate(ctx, r.date, r.deviceID)
	if err != nil {
		return calculator.Coordinate{}, NewPositionError(PositionUnavailable, err.Error())
	}
	if len(locations) == 0 {
		return calculator.Coordinate{}, NewPositionError(PositionUnavailable,
			fmt.Sprintf("no recorded fixes for %s", r.date))
	}

	return toCoordinate(locations[0]), nil
}

// Watch starts playing the track into onUpdate until ClearWatch
func (r *Replay) Watch(onUpdate UpdateFunc, onError ErrorFunc, opts Options) (WatchID, error) {
	id := WatchID(uuid.NewString())
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.watches[id] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.play(ctx, id, onUpdate, onError, opts)
	}()

	return id, nil
}

// ClearWatch stops a replay. Unknown ids are ignored.
func (r *Replay) ClearWatch(id WatchID) {
	r.mu.Lock()
	cancel, ok := r.watches[id]
	delete(r.watches, id)
	r.mu.Unlock()

	if ok {
		cancel()
	}
}

// Close stops every replay and waits for the players to exit
func (r *Replay) Close() {
	r.mu.Lock()
	for id, cancel := range r.watches {
		cancel()
		delete(r.watches, id)
	}
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Replay) play(ctx context.Context, id WatchID, onUpdate UpdateFunc, onError ErrorFunc, opts Options) {
	loadCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	locations, err := r.store.GetLocationsByDate(loadCtx, r.date, r.deviceID)
	if err != nil {
		if ctx.Err() == nil {
			onError(NewPositionError(PositionUnavailable, err.Error()))
		}
		return
	}

	log.Info().
		Str("watch_id", string(id)).
		Str("date", r.date).
		Str("device_id", r.deviceID).
		Int("fixes", len(locations)).
		Msg("Replaying recorded track")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for i, loc := range locations {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		if ctx.Err() != nil {
			return
		}
		onUpdate(toCoordinate(loc))
	}
}

func toCoordinate(loc database.Location) calculator.Coordinate {
	return calculator.Coordinate{Latitude: loc.Latitude, Longitude: loc.Longitude}
}
