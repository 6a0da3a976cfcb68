package calendar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_gatekeeper_bot/internal/config"
	"tg_gatekeeper_bot/internal/domain"
)

// Feed lines are CRLF-joined; iCalendar requires CRLF line endings.
var feedFixture = strings.Join([]string{
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//gatekeeper//test//EN",
	"BEGIN:VEVENT",
	"UID:sept@example.org",
	"DTSTART:20240907T110000Z",
	"DTEND:20240907T160000Z",
	"DESCRIPTION:September social",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:dec@example.org",
	"DTSTART:20241207T120000Z",
	"DTEND:20241207T170000Z",
	"DESCRIPTION:Christmas special",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:nov@example.org",
	"DTSTART:20241102T120000Z",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:oct@example.org",
	"DTSTART:20241025T110000Z",
	"DTEND:20241025T220000Z",
	"DESCRIPTION:October meet",
	"END:VEVENT",
	"END:VCALENDAR",
	"",
}, "\r\n")

func newTestFetcher(t *testing.T, url string) *Fetcher {
	t.Helper()

	london, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Fatalf("failed to load Europe/London: %v", err)
	}

	hookLogger, _ := logtest.NewNullLogger()
	cfg := config.Config{CalendarURL: url, Location: london}

	return NewFetcher(cfg, logrus.NewEntry(hookLogger))
}

func TestUpcomingFiltersSortsAndNormalizes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(feedFixture))
	}))
	defer server.Close()

	fetcher := newTestFetcher(t, server.URL)

	now := time.Date(2024, 10, 25, 12, 0, 0, 0, time.UTC)
	events, err := fetcher.Upcoming(context.Background(), now)
	if err != nil {
		t.Fatalf("Upcoming returned error: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("expected 3 upcoming events (ended one dropped), got %d", len(events))
	}

	descriptions := []string{events[0].Description, events[1].Description, events[2].Description}
	if descriptions[0] != "October meet" || descriptions[1] != "" || descriptions[2] != "Christmas special" {
		t.Fatalf("expected events sorted by begin time, got %v", descriptions)
	}

	october := events[0]
	if october.Begin.Location().String() != "Europe/London" {
		t.Fatalf("expected begin normalized to Europe/London, got %v", october.Begin.Location())
	}
	// 11:00 UTC on 2024-10-25 is 12:00 in London (BST).
	if october.Begin.Hour() != 12 {
		t.Fatalf("expected 12:00 local begin, got %v", october.Begin)
	}
	if !october.Begin.Before(now.Add(time.Hour)) || !october.End.After(now) {
		t.Fatalf("expected in-progress event to be surfaced, got begin=%v end=%v", october.Begin, october.End)
	}

	november := events[1]
	if !november.End.Equal(november.Begin) {
		t.Fatalf("expected missing DTEND to fall back to the start time, got begin=%v end=%v", november.Begin, november.End)
	}
}

func TestUpcomingEmptyWhenEverythingEnded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(feedFixture))
	}))
	defer server.Close()

	fetcher := newTestFetcher(t, server.URL)

	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	events, err := fetcher.Upcoming(context.Background(), now)
	if err != nil {
		t.Fatalf("Upcoming returned error: %v", err)
	}

	if len(events) != 0 {
		t.Fatalf("expected no upcoming events, got %d", len(events))
	}
}

func TestUpcomingReportsUpstreamStatusFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone fishing", http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := newTestFetcher(t, server.URL)

	_, err := fetcher.Upcoming(context.Background(), time.Now())
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestUpcomingReportsParseFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<!DOCTYPE html><html><body>not a calendar</body></html>"))
	}))
	defer server.Close()

	fetcher := newTestFetcher(t, server.URL)

	_, err := fetcher.Upcoming(context.Background(), time.Now())
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable for malformed feed, got %v", err)
	}
}

func TestPingReflectsFeedHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(feedFixture))
	}))
	defer healthy.Close()

	if err := newTestFetcher(t, healthy.URL).Ping(context.Background()); err != nil {
		t.Fatalf("expected healthy feed to ping clean, got %v", err)
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer broken.Close()

	if err := newTestFetcher(t, broken.URL).Ping(context.Background()); err == nil {
		t.Fatalf("expected failing feed to ping dirty")
	}
}
