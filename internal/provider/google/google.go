// Package google implements the provider adapter on the Google
// Calendar v3 API: incremental pulls via sync tokens with a bounded
// time-range fallback, and etag-guarded writes.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"schedsync/internal/domain"
	"schedsync/internal/provider"
)

const providerName = "google"

type Options struct {
	ClientID     string
	ClientSecret string
	Token        *oauth2.Token
	Logger       *slog.Logger
}

type Adapter struct {
	service *calendar.Service
	log     *slog.Logger
}

func New(ctx context.Context, opts Options) (*Adapter, error) {
	config := &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		Scopes:       []string{calendar.CalendarScope},
		Endpoint:     googleoauth.Endpoint,
	}
	service, err := calendar.NewService(ctx, option.WithHTTPClient(config.Client(ctx, opts.Token)))
	if err != nil {
		return nil, fmt.Errorf("google: create calendar service: %w", err)
	}
	return NewWithService(service, opts.Logger), nil
}

// NewWithService wires an already-built calendar service. Used by tests
// and callers that manage their own authentication.
func NewWithService(service *calendar.Service, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		service: service,
		log:     log.With("component", "provider.google"),
	}
}

var _ provider.Adapter = (*Adapter)(nil)

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.CapSyncCollection | provider.CapETags | provider.CapRecurrence
}

func (a *Adapter) Authenticate(ctx context.Context) error {
	if _, err := a.service.CalendarList.List().MaxResults(1).Context(ctx).Do(); err != nil {
		return mapErr(err)
	}
	return nil
}

func (a *Adapter) DiscoverCalendars(ctx context.Context) ([]domain.Calendar, error) {
	list, err := a.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, mapErr(err)
	}

	out := make([]domain.Calendar, 0, len(list.Items))
	for _, item := range list.Items {
		access := domain.CalendarAccessReader
		switch item.AccessRole {
		case "owner":
			access = domain.CalendarAccessOwner
		case "writer":
			access = domain.CalendarAccessWriter
		}
		out = append(out, domain.Calendar{
			ID:              item.Id,
			Name:            item.Summary,
			Access:          access,
			SupportsSync:    true,
			SupportsVEvents: true,
		})
	}
	return out, nil
}

// ListEvents pulls a calendar, preferring the sync token. A 410 Gone
// means the token aged out server-side and the caller has to resync
// from scratch.
func (a *Adapter) ListEvents(ctx context.Context, calendarID string, opts provider.ListOptions) (provider.ListResult, error) {
	res := provider.ListResult{FullSet: opts.SyncToken == ""}

	pageToken := ""
	for {
		call := a.service.Events.List(calendarID).
			SingleEvents(true).
			ShowDeleted(true).
			Context(ctx)
		if opts.SyncToken != "" {
			call = call.SyncToken(opts.SyncToken)
		} else {
			call = call.TimeMin(opts.From.UTC().Format(time.RFC3339)).
				TimeMax(opts.To.UTC().Format(time.RFC3339))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := call.Do()
		if err != nil {
			var gErr *googleapi.Error
			if errors.As(err, &gErr) && gErr.Code == http.StatusGone {
				return provider.ListResult{}, fmt.Errorf("google: %w", provider.ErrSyncTokenInvalid)
			}
			return provider.ListResult{}, mapErr(err)
		}

		for _, item := range page.Items {
			if item.Status == "cancelled" {
				if uid := eventUID(item); uid != "" {
					res.Deleted = append(res.Deleted, uid)
				}
				continue
			}
			ev, err := a.toCanonical(item, calendarID)
			if err != nil {
				a.log.Warn("skipping unmappable event", "id", item.Id, "error", err)
				continue
			}
			res.Events = append(res.Events, ev)
		}

		if page.NextPageToken == "" {
			res.NextToken = page.NextSyncToken
			return res, nil
		}
		pageToken = page.NextPageToken
	}
}

// CreateEvent imports the event so the canonical uid is preserved as
// the iCalUID.
func (a *Adapter) CreateEvent(ctx context.Context, calendarID string, ev domain.CanonicalEvent) (domain.CanonicalEvent, error) {
	item, err := a.service.Events.Import(calendarID, fromCanonical(ev)).Context(ctx).Do()
	if err != nil {
		return domain.CanonicalEvent{}, mapErr(err)
	}
	return a.toCanonical(item, calendarID)
}

func (a *Adapter) UpdateEvent(ctx context.Context, calendarID string, ev domain.CanonicalEvent) (domain.CanonicalEvent, error) {
	if ev.ETag == "" {
		return domain.CanonicalEvent{}, fmt.Errorf("google: update requires an etag")
	}
	existing, err := a.findByUID(ctx, calendarID, ev.UID)
	if err != nil {
		return domain.CanonicalEvent{}, err
	}

	call := a.service.Events.Update(calendarID, existing.Id, fromCanonical(ev)).Context(ctx)
	call.Header().Set("If-Match", ev.ETag)
	item, err := call.Do()
	if err != nil {
		return domain.CanonicalEvent{}, mapErr(err)
	}
	return a.toCanonical(item, calendarID)
}

func (a *Adapter) DeleteEvent(ctx context.Context, calendarID string, ev domain.CanonicalEvent) error {
	existing, err := a.findByUID(ctx, calendarID, ev.UID)
	if err != nil {
		return err
	}

	call := a.service.Events.Delete(calendarID, existing.Id).Context(ctx)
	if ev.ETag != "" {
		call.Header().Set("If-Match", ev.ETag)
	}
	if err := call.Do(); err != nil {
		return mapErr(err)
	}
	return nil
}

func (a *Adapter) findByUID(ctx context.Context, calendarID, uid string) (*calendar.Event, error) {
	page, err := a.service.Events.List(calendarID).ICalUID(uid).MaxResults(1).Context(ctx).Do()
	if err != nil {
		return nil, mapErr(err)
	}
	if len(page.Items) == 0 {
		return nil, &provider.ProviderError{
			Provider: providerName,
			Kind:     provider.KindNotFound,
			Err:      fmt.Errorf("no event with uid %s", uid),
		}
	}
	return page.Items[0], nil
}

func (a *Adapter) toCanonical(item *calendar.Event, calendarID string) (domain.CanonicalEvent, error) {
	start, startZone, allDay, err := parseEventTime(item.Start)
	if err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("start: %w", err)
	}
	end, _, _, err := parseEventTime(item.End)
	if err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("end: %w", err)
	}

	var attendees []string
	for _, att := range item.Attendees {
		attendees = append(attendees, att.Email)
	}
	organizer := ""
	if item.Organizer != nil {
		organizer = item.Organizer.Email
	}
	recurrence := ""
	if len(item.Recurrence) > 0 {
		recurrence = item.Recurrence[0]
	}
	lastModified := time.Time{}
	if item.Updated != "" {
		lastModified, _ = time.Parse(time.RFC3339, item.Updated)
	}

	return domain.CanonicalEvent{
		UID:          eventUID(item),
		Title:        item.Summary,
		Description:  item.Description,
		StartTime:    start,
		EndTime:      end,
		Timezone:     startZone,
		AllDay:       allDay,
		Location:     item.Location,
		Attendees:    attendees,
		Organizer:    organizer,
		Recurrence:   recurrence,
		Status:       statusFromGoogle(item.Status),
		ETag:         item.Etag,
		Provider:     providerName,
		CalendarID:   calendarID,
		LastModified: lastModified,
	}, nil
}

func fromCanonical(ev domain.CanonicalEvent) *calendar.Event {
	item := &calendar.Event{
		ICalUID:     ev.UID,
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Status:      statusToGoogle(ev.Status),
	}
	if ev.AllDay {
		item.Start = &calendar.EventDateTime{Date: ev.StartTime.UTC().Format("2006-01-02")}
		item.End = &calendar.EventDateTime{Date: ev.EndTime.UTC().Format("2006-01-02")}
	} else {
		item.Start = &calendar.EventDateTime{DateTime: ev.StartTime.UTC().Format(time.RFC3339), TimeZone: ev.Timezone}
		item.End = &calendar.EventDateTime{DateTime: ev.EndTime.UTC().Format(time.RFC3339), TimeZone: ev.Timezone}
	}
	for _, email := range ev.Attendees {
		item.Attendees = append(item.Attendees, &calendar.EventAttendee{Email: email})
	}
	if ev.Recurrence != "" {
		item.Recurrence = []string{ev.Recurrence}
	}
	return item
}

func parseEventTime(edt *calendar.EventDateTime) (time.Time, string, bool, error) {
	if edt == nil {
		return time.Time{}, "", false, fmt.Errorf("missing event time")
	}
	if edt.Date != "" {
		t, err := time.Parse("2006-01-02", edt.Date)
		if err != nil {
			return time.Time{}, "", false, err
		}
		zone := edt.TimeZone
		if zone == "" {
			zone = "UTC"
		}
		return t.UTC(), zone, true, nil
	}
	t, err := time.Parse(time.RFC3339, edt.DateTime)
	if err != nil {
		return time.Time{}, "", false, err
	}
	zone := edt.TimeZone
	if zone == "" {
		zone = "UTC"
	}
	return t.UTC(), zone, false, nil
}

func eventUID(item *calendar.Event) string {
	if item.ICalUID != "" {
		return item.ICalUID
	}
	return item.Id
}

func statusFromGoogle(s string) domain.EventStatus {
	switch s {
	case "tentative":
		return domain.EventStatusTentative
	case "cancelled":
		return domain.EventStatusCancelled
	default:
		return domain.EventStatusConfirmed
	}
}

func statusToGoogle(s domain.EventStatus) string {
	switch s {
	case domain.EventStatusTentative:
		return "tentative"
	case domain.EventStatusCancelled:
		return "cancelled"
	default:
		return "confirmed"
	}
}

func mapErr(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return provider.StatusError(providerName, gErr.Code, err)
	}
	return &provider.ProviderError{
		Provider:  providerName,
		Kind:      provider.KindUnavailable,
		Retryable: true,
		Err:       err,
	}
}
