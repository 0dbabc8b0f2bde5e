package caldav

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"schedsync/internal/domain"
	"schedsync/internal/provider"
)

// CreateEvent PUTs the event with If-None-Match: * so an existing
// resource under the same uid fails instead of being overwritten.
func (a *Adapter) CreateEvent(ctx context.Context, calendarID string, ev domain.CanonicalEvent) (domain.CanonicalEvent, error) {
	return a.put(ctx, calendarID, ev, "If-None-Match", "*")
}

// UpdateEvent PUTs with If-Match so a remote change since our fetch
// surfaces as a concurrency conflict, never a silent overwrite.
func (a *Adapter) UpdateEvent(ctx context.Context, calendarID string, ev domain.CanonicalEvent) (domain.CanonicalEvent, error) {
	if ev.ETag == "" {
		return domain.CanonicalEvent{}, fmt.Errorf("caldav: update requires an etag")
	}
	return a.put(ctx, calendarID, ev, "If-Match", quoteETag(ev.ETag))
}

func (a *Adapter) DeleteEvent(ctx context.Context, calendarID string, ev domain.CanonicalEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.eventURL(calendarID, ev.UID), nil)
	if err != nil {
		return err
	}
	if ev.ETag != "" {
		req.Header.Set("If-Match", quoteETag(ev.ETag))
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return &provider.ProviderError{
			Provider:  providerName,
			Kind:      provider.KindUnavailable,
			Retryable: true,
			Err:       err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return a.writeError(resp, "DELETE", ev.UID)
}

func (a *Adapter) put(ctx context.Context, calendarID string, ev domain.CanonicalEvent, condHeader, condValue string) (domain.CanonicalEvent, error) {
	body, err := a.norm.Encode(ev)
	if err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("caldav: encode %s: %w", ev.UID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, a.eventURL(calendarID, ev.UID), bytes.NewReader(body))
	if err != nil {
		return domain.CanonicalEvent{}, err
	}
	req.Header.Set("Content-Type", `text/calendar; charset="utf-8"`)
	req.Header.Set(condHeader, condValue)

	resp, err := a.http.Do(req)
	if err != nil {
		return domain.CanonicalEvent{}, &provider.ProviderError{
			Provider:  providerName,
			Kind:      provider.KindUnavailable,
			Retryable: true,
			Err:       err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.CanonicalEvent{}, a.writeError(resp, "PUT", ev.UID)
	}

	ev.Provider = providerName
	ev.CalendarID = calendarID
	if etag := unquoteETag(resp.Header.Get("Etag")); etag != "" {
		ev.ETag = etag
	} else {
		// Some servers omit the etag on PUT; the next pull fills it in.
		ev.ETag = ""
	}
	return ev, nil
}

func (a *Adapter) writeError(resp *http.Response, method, uid string) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return provider.StatusError(providerName, resp.StatusCode, fmt.Errorf("%s %s: %s", method, uid, strings.TrimSpace(string(data))))
}

func quoteETag(etag string) string {
	if strings.HasPrefix(etag, `"`) {
		return etag
	}
	return `"` + etag + `"`
}
