// Package calendar retrieves the community iCalendar feed and turns it into
// a sorted list of upcoming events.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/emersion/go-ical"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"tg_gatekeeper_bot/internal/config"
	"tg_gatekeeper_bot/internal/domain"
	"tg_gatekeeper_bot/internal/logging"
)

const (
	fetchTimeout = 20 * time.Second
	retryMax     = 3
	retryWaitMin = 1 * time.Second
	retryWaitMax = 10 * time.Second
)

// Fetcher downloads and parses the feed. Events are derived on every call;
// nothing is cached or persisted.
type Fetcher struct {
	url    string
	loc    *time.Location
	client *http.Client
	logger *logrus.Entry
}

// NewFetcher constructs a Fetcher for the configured feed URL and local zone.
// The underlying client retries connection errors, 5xx, and 429 responses
// with backoff, under an overall per-request timeout.
func NewFetcher(cfg config.Config, logger *logrus.Entry) *Fetcher {
	if logger == nil {
		logger = logging.Logger()
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.RetryWaitMin = retryWaitMin
	retryClient.RetryWaitMax = retryWaitMax
	retryClient.Logger = retryablehttp.LeveledLogger(leveledLogrus{inner: logger})

	client := retryClient.StandardClient()
	client.Timeout = fetchTimeout

	return &Fetcher{
		url:    cfg.CalendarURL,
		loc:    loc,
		client: client,
		logger: logger,
	}
}

// Upcoming returns the feed's events that have not yet ended, normalized to
// the local zone and sorted by begin time ascending. Fetch and parse failures
// wrap domain.ErrUpstreamUnavailable; they never terminate the process.
func (f *Fetcher) Upcoming(ctx context.Context, now time.Time) ([]domain.Event, error) {
	if f == nil || f.client == nil {
		return nil, errors.New("calendar fetcher is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w: %w", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch feed: %w: unexpected status %s", domain.ErrUpstreamUnavailable, resp.Status)
	}

	events, err := f.decodeEvents(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w: %w", domain.ErrUpstreamUnavailable, err)
	}

	upcoming := events[:0]
	for _, event := range events {
		if event.End.After(now) {
			upcoming = append(upcoming, event)
		}
	}

	sort.Slice(upcoming, func(i, j int) bool {
		return upcoming[i].Begin.Before(upcoming[j].Begin)
	})

	f.logger.WithFields(logging.Fields{
		"event":    "calendar_fetched",
		"total":    len(events),
		"upcoming": len(upcoming),
	}).Debug("fetched calendar feed")

	return upcoming, nil
}

// Ping probes feed reachability for health checks. The body is discarded.
func (f *Fetcher) Ping(ctx context.Context) error {
	if f == nil || f.client == nil {
		return errors.New("calendar fetcher is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return fmt.Errorf("build feed request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe feed: unexpected status %s", resp.Status)
	}

	return nil
}

// decodeEvents walks every calendar in the document and extracts its VEVENT
// components. Events without a start time are dropped; a missing end time
// falls back to the start, making the event instantaneous.
func (f *Fetcher) decodeEvents(r io.Reader) ([]domain.Event, error) {
	decoder := ical.NewDecoder(r)
	events := make([]domain.Event, 0)

	for {
		cal, err := decoder.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode calendar: %w", err)
		}

		for _, comp := range cal.Children {
			if comp.Name != ical.CompEvent {
				continue
			}

			event, ok := f.parseEvent(comp)
			if !ok {
				continue
			}

			events = append(events, event)
		}
	}

	return events, nil
}

func (f *Fetcher) parseEvent(comp *ical.Component) (domain.Event, bool) {
	event := domain.Event{}

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return domain.Event{}, false
	}

	begin, err := startProp.DateTime(f.loc)
	if err != nil {
		f.logger.WithField("event", "calendar_bad_event").WithError(err).Debug("skipping event with unparseable start")
		return domain.Event{}, false
	}
	event.Begin = begin.In(f.loc)
	event.End = event.Begin

	if endProp := comp.Props.Get(ical.PropDateTimeEnd); endProp != nil {
		if end, err := endProp.DateTime(f.loc); err == nil {
			event.End = end.In(f.loc)
		}
	}

	if descProp := comp.Props.Get(ical.PropDescription); descProp != nil {
		event.Description = descProp.Value
	}

	return event, true
}

// leveledLogrus adapts the structured logger to retryablehttp's leveled
// interface. Client errors are reported at warn because the client retries.
type leveledLogrus struct {
	inner *logrus.Entry
}

func (l leveledLogrus) Error(msg string, keysAndValues ...interface{}) {
	l.inner.WithFields(kvFields(keysAndValues)).Warn(msg)
}

func (l leveledLogrus) Warn(msg string, keysAndValues ...interface{}) {
	l.inner.WithFields(kvFields(keysAndValues)).Warn(msg)
}

func (l leveledLogrus) Info(msg string, keysAndValues ...interface{}) {
	l.inner.WithFields(kvFields(keysAndValues)).Info(msg)
}

func (l leveledLogrus) Debug(msg string, keysAndValues ...interface{}) {
	l.inner.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func kvFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields[key] = keysAndValues[i+1]
	}

	return fields
}
