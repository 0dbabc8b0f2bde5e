// Package sync orchestrates calendar synchronization passes: pull
// remote changes into the local mirror, push unmirrored local
// appointments, detect conflicts across the merged schedule, and
// commit the sync cursor only when the whole pass succeeded.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"schedsync/internal/domain"
	"schedsync/internal/provider"
	"schedsync/internal/service/conflicts"
	"schedsync/internal/store"
	"schedsync/internal/timezone"
)

// SyncResult summarizes one pass over one calendar.
type SyncResult struct {
	Pulled     int
	Pushed     int
	Deleted    int
	Conflicts  []domain.Conflict
	FullResync bool
}

type Options struct {
	// Horizon bounds full-range pulls and the push/conflict window.
	Horizon time.Duration
	// Retry governs backoff on transient pull failures. Zero value
	// means the default policy.
	Retry  provider.RetryPolicy
	Logger *slog.Logger
}

type Orchestrator struct {
	adapters *provider.Registry
	events   store.EventRepository
	appts    store.AppointmentRepository
	states   store.SyncStateRepository
	detector conflicts.Detector
	tz       *timezone.Service
	sessions *provider.SessionCache
	retry    provider.RetryPolicy
	horizon  time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu    stdsync.Mutex
	locks map[string]*stdsync.Mutex
}

func NewOrchestrator(
	adapters *provider.Registry,
	events store.EventRepository,
	appts store.AppointmentRepository,
	states store.SyncStateRepository,
	detector conflicts.Detector,
	opts Options,
) *Orchestrator {
	if opts.Horizon <= 0 {
		opts.Horizon = 30 * 24 * time.Hour
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = provider.DefaultRetryPolicy()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		adapters: adapters,
		events:   events,
		appts:    appts,
		states:   states,
		detector: detector,
		tz:       timezone.NewService(),
		sessions: provider.NewSessionCache(),
		retry:    opts.Retry,
		horizon:  opts.Horizon,
		log:      log.With("component", "sync"),
		now:      time.Now,
		locks:    make(map[string]*stdsync.Mutex),
	}
}

// WithNow fixes the clock for tests.
func (o *Orchestrator) WithNow(now func() time.Time) *Orchestrator {
	o.now = now
	o.sessions.WithNow(now)
	return o
}

// keyLock returns the mutex serializing passes for one
// (user, provider, calendar) key.
func (o *Orchestrator) keyLock(key string) *stdsync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[key]
	if !ok {
		l = &stdsync.Mutex{}
		o.locks[key] = l
	}
	return l
}

// SyncCalendar runs one full pass for a calendar. Passes for the same
// key never interleave. The sync cursor is committed only after pull,
// push, and detection all succeeded; a failed pass leaves SyncState
// untouched. An invalid sync token triggers exactly one full resync
// within the same call.
func (o *Orchestrator) SyncCalendar(ctx context.Context, userID, providerName, calendarID string) (SyncResult, error) {
	adapter, ok := o.adapters.Get(providerName)
	if !ok {
		return SyncResult{}, fmt.Errorf("sync: unknown provider %q", providerName)
	}

	key := userID + "/" + providerName + "/" + calendarID
	lock := o.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := o.ensureSession(ctx, adapter, userID); err != nil {
		return SyncResult{}, fmt.Errorf("sync: authenticate %s: %w", providerName, err)
	}

	state, err := o.states.Get(ctx, userID, providerName, calendarID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return SyncResult{}, fmt.Errorf("sync: load state: %w", err)
	}

	var res SyncResult
	token := state.SyncToken
	if !adapter.Capabilities().Has(provider.CapSyncCollection) {
		token = ""
	}

	pulled, err := o.pull(ctx, adapter, userID, calendarID, token, &res)
	if errors.Is(err, provider.ErrSyncTokenInvalid) {
		o.log.Info("sync token rejected, falling back to full resync",
			"user", userID, "provider", providerName, "calendar", calendarID)
		res = SyncResult{FullResync: true}
		pulled, err = o.pull(ctx, adapter, userID, calendarID, "", &res)
	}
	if err != nil {
		return SyncResult{}, err
	}

	if err := o.push(ctx, adapter, userID, providerName, calendarID, &res); err != nil {
		return SyncResult{}, err
	}

	if err := o.detect(ctx, userID, providerName, calendarID, &res); err != nil {
		return SyncResult{}, err
	}

	state.UserID = userID
	state.Provider = providerName
	state.CalendarID = calendarID
	state.SyncToken = pulled.NextToken
	if pulled.FullSet {
		state.FullSyncAt = o.now().UTC()
	}
	if _, err := o.states.Put(ctx, state); err != nil {
		return SyncResult{}, fmt.Errorf("sync: commit state: %w", err)
	}
	return res, nil
}

const sessionTTL = 15 * time.Minute

// ensureSession verifies the adapter's credentials at most once per
// TTL per (provider, user), with concurrent passes sharing one
// refresh.
func (o *Orchestrator) ensureSession(ctx context.Context, adapter provider.Adapter, userID string) error {
	_, err := o.sessions.Get(ctx, adapter.Name()+"/"+userID, func(ctx context.Context) (provider.Session, error) {
		if err := adapter.Authenticate(ctx); err != nil {
			return provider.Session{}, err
		}
		return provider.Session{Token: "ok", Expiry: o.now().Add(sessionTTL)}, nil
	})
	return err
}

// pull fetches remote changes and applies them to the mirror. A full
// result set replaces the calendar's mirror wholesale; an incremental
// one is applied change by change. Transient provider failures are
// retried with backoff; reads are idempotent.
func (o *Orchestrator) pull(ctx context.Context, adapter provider.Adapter, userID, calendarID, token string, res *SyncResult) (provider.ListResult, error) {
	from := o.now().UTC().Truncate(24 * time.Hour)
	var listed provider.ListResult
	err := provider.Retry(ctx, o.retry, func(ctx context.Context) error {
		var err error
		listed, err = adapter.ListEvents(ctx, calendarID, provider.ListOptions{
			SyncToken: token,
			From:      from,
			To:        from.Add(o.horizon),
		})
		return err
	})
	if err != nil {
		return provider.ListResult{}, err
	}

	for i := range listed.Events {
		listed.Events[i].OwnerID = userID
	}

	if listed.FullSet {
		if err := o.events.ReplaceCalendar(ctx, adapter.Name(), calendarID, listed.Events); err != nil {
			return provider.ListResult{}, fmt.Errorf("sync: replace mirror: %w", err)
		}
		res.Pulled += len(listed.Events)
		return listed, nil
	}

	for _, ev := range listed.Events {
		if _, err := o.events.Upsert(ctx, ev); err != nil {
			return provider.ListResult{}, fmt.Errorf("sync: mirror event %s: %w", ev.UID, err)
		}
		res.Pulled++
	}
	for _, uid := range listed.Deleted {
		err := o.events.Delete(ctx, adapter.Name(), calendarID, uid)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return provider.ListResult{}, fmt.Errorf("sync: drop mirrored event %s: %w", uid, err)
		}
		res.Deleted++
	}
	return listed, nil
}

// push mirrors scheduled local appointments outward. Writes are etag
// guarded; a lost race is retried once with a freshly fetched etag
// before surfacing.
func (o *Orchestrator) push(ctx context.Context, adapter provider.Adapter, userID, providerName, calendarID string, res *SyncResult) error {
	from := o.now().UTC().Truncate(24 * time.Hour)
	appts, err := o.appts.List(ctx, userID, from, from.Add(o.horizon))
	if err != nil {
		return fmt.Errorf("sync: list appointments: %w", err)
	}

	for _, appt := range appts {
		if appt.Status != domain.AppointmentStatusScheduled {
			continue
		}
		if appt.EventUID == "" {
			appt.EventUID = fmt.Sprintf("appt-%s@schedsync", appt.ID)
			if appt, err = o.appts.Update(ctx, appt); err != nil {
				return fmt.Errorf("sync: assign event uid: %w", err)
			}
		}

		mirror, err := o.events.Get(ctx, providerName, calendarID, appt.EventUID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			created, err := adapter.CreateEvent(ctx, calendarID, appointmentEvent(appt, providerName, calendarID))
			if err != nil {
				return fmt.Errorf("sync: push appointment %s: %w", appt.ID, err)
			}
			created.OwnerID = userID
			if _, err := o.events.Upsert(ctx, created); err != nil {
				return fmt.Errorf("sync: mirror pushed appointment %s: %w", appt.ID, err)
			}
			res.Pushed++

		case err != nil:
			return fmt.Errorf("sync: read mirror for %s: %w", appt.EventUID, err)

		default:
			if mirror.StartTime.Equal(appt.StartTime) && mirror.EndTime.Equal(appt.EndTime) && mirror.Title == appt.Purpose {
				continue
			}
			outbound := appointmentEvent(appt, providerName, calendarID)
			outbound.ETag = mirror.ETag
			updated, err := o.updateWithRetry(ctx, adapter, calendarID, outbound)
			if err != nil {
				return fmt.Errorf("sync: update appointment %s: %w", appt.ID, err)
			}
			updated.OwnerID = userID
			if _, err := o.events.Upsert(ctx, updated); err != nil {
				return fmt.Errorf("sync: mirror updated appointment %s: %w", appt.ID, err)
			}
			res.Pushed++
		}
	}
	return nil
}

// updateWithRetry performs an etag-guarded update. On a concurrency
// loss it refetches the remote copy once to pick up the fresh etag and
// retries; a second loss surfaces.
func (o *Orchestrator) updateWithRetry(ctx context.Context, adapter provider.Adapter, calendarID string, ev domain.CanonicalEvent) (domain.CanonicalEvent, error) {
	updated, err := adapter.UpdateEvent(ctx, calendarID, ev)
	if !isConcurrencyLoss(err) {
		return updated, err
	}

	o.log.Warn("etag rejected, refetching before retry", "uid", ev.UID, "calendar", calendarID)
	fresh, ferr := o.refetchETag(ctx, adapter, calendarID, ev)
	if ferr != nil {
		return domain.CanonicalEvent{}, errors.Join(err, ferr)
	}
	ev.ETag = fresh
	return adapter.UpdateEvent(ctx, calendarID, ev)
}

// refetchETag pulls a narrow window around the event to recover its
// current etag.
func (o *Orchestrator) refetchETag(ctx context.Context, adapter provider.Adapter, calendarID string, ev domain.CanonicalEvent) (string, error) {
	listed, err := adapter.ListEvents(ctx, calendarID, provider.ListOptions{
		From: ev.StartTime.Add(-time.Hour),
		To:   ev.EndTime.Add(time.Hour),
	})
	if err != nil {
		return "", fmt.Errorf("sync: refetch %s: %w", ev.UID, err)
	}
	for _, remote := range listed.Events {
		if remote.UID == ev.UID {
			return remote.ETag, nil
		}
	}
	return "", fmt.Errorf("sync: refetch %s: event vanished remotely", ev.UID)
}

func isConcurrencyLoss(err error) bool {
	var pErr *provider.ProviderError
	return errors.As(err, &pErr) && pErr.Kind == provider.KindConcurrency
}

// detect runs conflict detection over the merged local schedule:
// appointments plus mirrored events, minus the mirrors of our own
// appointments so they do not collide with themselves.
func (o *Orchestrator) detect(ctx context.Context, userID, providerName, calendarID string, res *SyncResult) error {
	from := o.now().UTC().Truncate(24 * time.Hour)
	to := from.Add(o.horizon)

	appts, err := o.appts.List(ctx, userID, from, to)
	if err != nil {
		return fmt.Errorf("sync: list appointments for detection: %w", err)
	}
	ours := make(map[string]bool, len(appts))
	items := make([]conflicts.Item, 0, len(appts))
	for _, appt := range appts {
		ours[appt.EventUID] = true
		items = append(items, conflicts.FromAppointment(appt))
	}

	events, err := o.events.List(ctx, userID, from, to)
	if err != nil {
		return fmt.Errorf("sync: list mirrored events for detection: %w", err)
	}
	for _, ev := range events {
		if ours[ev.UID] {
			continue
		}
		items = append(items, o.eventItems(ev, from, to)...)
	}

	found, err := o.detector.Detect(ctx, items)
	if err != nil {
		return fmt.Errorf("sync: detect conflicts: %w", err)
	}
	res.Conflicts = found
	return nil
}

// eventItems flattens a mirrored event for detection. A recurring
// event is expanded into one item per occurrence inside the window so
// later instances collide too, not just the master. A rule the
// expander cannot parse degrades to the master interval and is logged.
func (o *Orchestrator) eventItems(ev domain.CanonicalEvent, from, to time.Time) []conflicts.Item {
	if ev.Recurrence == "" {
		return []conflicts.Item{conflicts.FromEvent(ev)}
	}

	expanded, err := o.tz.ExpandRRule(ev.Recurrence, ev.StartTime, ev.Timezone, from, to, 0)
	if err != nil {
		o.log.Warn("recurrence expansion failed, using master interval",
			"uid", ev.UID, "rule", ev.Recurrence, "error", err)
		return []conflicts.Item{conflicts.FromEvent(ev)}
	}
	if expanded.Truncated {
		o.log.Warn("recurrence expansion truncated", "uid", ev.UID, "rule", ev.Recurrence)
	}

	duration := ev.EndTime.Sub(ev.StartTime)
	items := make([]conflicts.Item, 0, len(expanded.Instants))
	for _, start := range expanded.Instants {
		occurrence := ev
		occurrence.StartTime = start
		occurrence.EndTime = start.Add(duration)
		item := conflicts.FromEvent(occurrence)
		item.ID = fmt.Sprintf("%s@%s", ev.UID, start.UTC().Format(time.RFC3339))
		items = append(items, item)
	}
	return items
}

func appointmentEvent(appt domain.Appointment, providerName, calendarID string) domain.CanonicalEvent {
	return domain.CanonicalEvent{
		UID:        appt.EventUID,
		OwnerID:    appt.OwnerID,
		Title:      appt.Purpose,
		StartTime:  appt.StartTime,
		EndTime:    appt.EndTime,
		Timezone:   "UTC",
		Location:   appt.Location,
		Attendees:  appt.Participants,
		Status:     domain.EventStatusConfirmed,
		Provider:   providerName,
		CalendarID: calendarID,
	}
}
