package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"schedsync/internal/domain"
	"schedsync/internal/provider"
)

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	service, err := calendar.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return NewWithService(service, nil)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestListEventsIncremental(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("syncToken"); got != "token-1" {
			t.Errorf("syncToken = %q, want %q", got, "token-1")
		}
		if got := q.Get("showDeleted"); got != "true" {
			t.Errorf("showDeleted = %q, want true", got)
		}
		if got := q.Get("singleEvents"); got != "true" {
			t.Errorf("singleEvents = %q, want true", got)
		}
		if got := q.Get("timeMin"); got != "" {
			t.Errorf("timeMin = %q, want empty on incremental pull", got)
		}
		writeJSON(t, w, &calendar.Events{
			NextSyncToken: "token-2",
			Items: []*calendar.Event{
				{
					Id:      "gid-1",
					ICalUID: "ev-1@example.com",
					Etag:    `"etag-1"`,
					Summary: "Planning",
					Status:  "confirmed",
					Updated: "2026-03-01T09:00:00Z",
					Start:   &calendar.EventDateTime{DateTime: "2026-03-02T10:00:00+01:00", TimeZone: "Europe/Paris"},
					End:     &calendar.EventDateTime{DateTime: "2026-03-02T11:00:00+01:00", TimeZone: "Europe/Paris"},
					Attendees: []*calendar.EventAttendee{
						{Email: "alice@example.com"},
					},
					Organizer: &calendar.EventOrganizer{Email: "bob@example.com"},
				},
				{
					Id:      "gid-2",
					ICalUID: "ev-gone@example.com",
					Status:  "cancelled",
				},
			},
		})
	}))

	res, err := adapter.ListEvents(context.Background(), "primary", provider.ListOptions{SyncToken: "token-1"})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if res.FullSet {
		t.Error("FullSet = true, want false for incremental pull")
	}
	if res.NextToken != "token-2" {
		t.Errorf("NextToken = %q, want %q", res.NextToken, "token-2")
	}
	if len(res.Events) != 1 {
		t.Fatalf("len(Events) = %d, want 1", len(res.Events))
	}
	ev := res.Events[0]
	if ev.UID != "ev-1@example.com" {
		t.Errorf("UID = %q, want %q", ev.UID, "ev-1@example.com")
	}
	if ev.ETag != `"etag-1"` {
		t.Errorf("ETag = %q, want %q", ev.ETag, `"etag-1"`)
	}
	if ev.Timezone != "Europe/Paris" {
		t.Errorf("Timezone = %q, want Europe/Paris", ev.Timezone)
	}
	wantStart := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if !ev.StartTime.Equal(wantStart) {
		t.Errorf("StartTime = %v, want %v", ev.StartTime, wantStart)
	}
	if len(ev.Attendees) != 1 || ev.Attendees[0] != "alice@example.com" {
		t.Errorf("Attendees = %v, want [alice@example.com]", ev.Attendees)
	}
	if ev.Organizer != "bob@example.com" {
		t.Errorf("Organizer = %q, want bob@example.com", ev.Organizer)
	}
	if len(res.Deleted) != 1 || res.Deleted[0] != "ev-gone@example.com" {
		t.Errorf("Deleted = %v, want [ev-gone@example.com]", res.Deleted)
	}
}

func TestListEventsStaleSyncToken(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "sync token no longer valid", http.StatusGone)
	}))

	_, err := adapter.ListEvents(context.Background(), "primary", provider.ListOptions{SyncToken: "ancient"})
	if !errors.Is(err, provider.ErrSyncTokenInvalid) {
		t.Fatalf("ListEvents() error = %v, want ErrSyncTokenInvalid", err)
	}
}

func TestListEventsFullRangePaginates(t *testing.T) {
	calls := 0
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		q := r.URL.Query()
		if got := q.Get("timeMin"); got != "2026-03-01T00:00:00Z" {
			t.Errorf("timeMin = %q, want 2026-03-01T00:00:00Z", got)
		}
		if got := q.Get("timeMax"); got != "2026-04-01T00:00:00Z" {
			t.Errorf("timeMax = %q, want 2026-04-01T00:00:00Z", got)
		}
		switch calls {
		case 1:
			writeJSON(t, w, &calendar.Events{
				NextPageToken: "page-2",
				Items: []*calendar.Event{{
					ICalUID: "ev-1@example.com",
					Status:  "confirmed",
					Start:   &calendar.EventDateTime{DateTime: "2026-03-02T10:00:00Z"},
					End:     &calendar.EventDateTime{DateTime: "2026-03-02T11:00:00Z"},
				}},
			})
		case 2:
			if got := q.Get("pageToken"); got != "page-2" {
				t.Errorf("pageToken = %q, want page-2", got)
			}
			writeJSON(t, w, &calendar.Events{
				NextSyncToken: "token-fresh",
				Items: []*calendar.Event{{
					ICalUID: "ev-allday@example.com",
					Status:  "confirmed",
					Start:   &calendar.EventDateTime{Date: "2026-03-05"},
					End:     &calendar.EventDateTime{Date: "2026-03-06"},
				}},
			})
		default:
			t.Errorf("unexpected extra request %d", calls)
		}
	}))

	res, err := adapter.ListEvents(context.Background(), "primary", provider.ListOptions{
		From: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if !res.FullSet {
		t.Error("FullSet = false, want true for ranged pull")
	}
	if res.NextToken != "token-fresh" {
		t.Errorf("NextToken = %q, want token-fresh", res.NextToken)
	}
	if len(res.Events) != 2 {
		t.Fatalf("len(Events) = %d, want 2", len(res.Events))
	}
	if !res.Events[1].AllDay {
		t.Error("AllDay = false for date-only event, want true")
	}
}

func TestCreateEventImportsWithUID(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var body calendar.Event
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.ICalUID != "appt-9@schedsync" {
			t.Errorf("iCalUID = %q, want appt-9@schedsync", body.ICalUID)
		}
		if body.Start == nil || body.Start.DateTime != "2026-03-02T10:00:00Z" {
			t.Errorf("start = %+v, want 2026-03-02T10:00:00Z", body.Start)
		}
		body.Id = "gid-new"
		body.Etag = `"etag-new"`
		body.Status = "confirmed"
		writeJSON(t, w, &body)
	}))

	created, err := adapter.CreateEvent(context.Background(), "primary", domain.CanonicalEvent{
		UID:       "appt-9@schedsync",
		Title:     "Consultation",
		StartTime: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
		Timezone:  "UTC",
		Status:    domain.EventStatusConfirmed,
	})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	if created.ETag != `"etag-new"` {
		t.Errorf("ETag = %q, want %q", created.ETag, `"etag-new"`)
	}
	if created.UID != "appt-9@schedsync" {
		t.Errorf("UID = %q, want appt-9@schedsync", created.UID)
	}
}

func TestUpdateEventSendsIfMatch(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if got := r.URL.Query().Get("iCalUID"); got != "appt-9@schedsync" {
				t.Errorf("iCalUID = %q, want appt-9@schedsync", got)
			}
			writeJSON(t, w, &calendar.Events{Items: []*calendar.Event{{
				Id:      "gid-9",
				ICalUID: "appt-9@schedsync",
				Status:  "confirmed",
				Start:   &calendar.EventDateTime{DateTime: "2026-03-02T10:00:00Z"},
				End:     &calendar.EventDateTime{DateTime: "2026-03-02T11:00:00Z"},
			}}})
		case http.MethodPut:
			if got := r.Header.Get("If-Match"); got != `"etag-old"` {
				t.Errorf("If-Match = %q, want %q", got, `"etag-old"`)
			}
			var body calendar.Event
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode request: %v", err)
			}
			body.Id = "gid-9"
			body.Etag = `"etag-next"`
			body.Status = "confirmed"
			writeJSON(t, w, &body)
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	}))

	updated, err := adapter.UpdateEvent(context.Background(), "primary", domain.CanonicalEvent{
		UID:       "appt-9@schedsync",
		Title:     "Consultation (moved)",
		StartTime: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
		Timezone:  "UTC",
		Status:    domain.EventStatusConfirmed,
		ETag:      `"etag-old"`,
	})
	if err != nil {
		t.Fatalf("UpdateEvent() error = %v", err)
	}
	if updated.ETag != `"etag-next"` {
		t.Errorf("ETag = %q, want %q", updated.ETag, `"etag-next"`)
	}
}

func TestUpdateEventConcurrencyLoss(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(t, w, &calendar.Events{Items: []*calendar.Event{{
				Id:      "gid-9",
				ICalUID: "appt-9@schedsync",
				Status:  "confirmed",
				Start:   &calendar.EventDateTime{DateTime: "2026-03-02T10:00:00Z"},
				End:     &calendar.EventDateTime{DateTime: "2026-03-02T11:00:00Z"},
			}}})
		case http.MethodPut:
			http.Error(w, "etag mismatch", http.StatusPreconditionFailed)
		}
	}))

	_, err := adapter.UpdateEvent(context.Background(), "primary", domain.CanonicalEvent{
		UID:       "appt-9@schedsync",
		StartTime: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
		Status:    domain.EventStatusConfirmed,
		ETag:      `"etag-stale"`,
	})
	var pErr *provider.ProviderError
	if !errors.As(err, &pErr) {
		t.Fatalf("UpdateEvent() error = %T, want *provider.ProviderError", err)
	}
	if pErr.Kind != provider.KindConcurrency {
		t.Errorf("Kind = %v, want KindConcurrency", pErr.Kind)
	}
	if pErr.Retryable {
		t.Error("Retryable = true, want false for precondition failure")
	}
}

func TestUpdateEventRequiresETag(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected when etag is missing")
	}))

	_, err := adapter.UpdateEvent(context.Background(), "primary", domain.CanonicalEvent{UID: "appt-9@schedsync"})
	if err == nil {
		t.Fatal("UpdateEvent() error = nil, want missing-etag error")
	}
}

func TestDeleteEventSendsIfMatch(t *testing.T) {
	deleted := false
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(t, w, &calendar.Events{Items: []*calendar.Event{{
				Id:      "gid-9",
				ICalUID: "appt-9@schedsync",
				Status:  "confirmed",
				Start:   &calendar.EventDateTime{DateTime: "2026-03-02T10:00:00Z"},
				End:     &calendar.EventDateTime{DateTime: "2026-03-02T11:00:00Z"},
			}}})
		case http.MethodDelete:
			if got := r.Header.Get("If-Match"); got != `"etag-1"` {
				t.Errorf("If-Match = %q, want %q", got, `"etag-1"`)
			}
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		}
	}))

	err := adapter.DeleteEvent(context.Background(), "primary", domain.CanonicalEvent{
		UID:  "appt-9@schedsync",
		ETag: `"etag-1"`,
	})
	if err != nil {
		t.Fatalf("DeleteEvent() error = %v", err)
	}
	if !deleted {
		t.Error("delete request never reached the server")
	}
}

func TestDiscoverCalendars(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, &calendar.CalendarList{Items: []*calendar.CalendarListEntry{
			{Id: "primary", Summary: "Work", AccessRole: "owner"},
			{Id: "team@group.calendar.google.com", Summary: "Team", AccessRole: "reader"},
		}})
	}))

	cals, err := adapter.DiscoverCalendars(context.Background())
	if err != nil {
		t.Fatalf("DiscoverCalendars() error = %v", err)
	}
	if len(cals) != 2 {
		t.Fatalf("len(calendars) = %d, want 2", len(cals))
	}
	if cals[0].Access != domain.CalendarAccessOwner {
		t.Errorf("Access = %v, want owner", cals[0].Access)
	}
	if cals[1].Access != domain.CalendarAccessReader {
		t.Errorf("Access = %v, want reader", cals[1].Access)
	}
	if !cals[0].SupportsSync {
		t.Error("SupportsSync = false, want true")
	}
}
