package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/erezf1/WhatsTasker-sub000/internal/domain"
)

// GoogleCalendar talks to the Google Calendar API for a single user. The
// user's OAuth token is read from a JSON file under the tokens directory;
// a user without a token file gets an inactive gateway.
type GoogleCalendar struct {
	srv        *calendar.Service
	calendarID string
	logger     *log.Logger
}

// OAuthConfig builds the oauth2 application config from client credentials.
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Scopes: []string{calendar.CalendarEventsScope},
	}
}

// NewGoogleCalendar opens a calendar client for userID using the token stored
// at <tokensDir>/<userID>.json. A missing token file returns (nil, nil) so the
// caller can run store-only.
func NewGoogleCalendar(ctx context.Context, conf *oauth2.Config, tokensDir, userID string, logger *log.Logger) (*GoogleCalendar, error) {
	tok, err := tokenFromFile(filepath.Join(tokensDir, userID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load token for %s: %w", userID, err)
	}
	srv, err := calendar.NewService(ctx, option.WithHTTPClient(conf.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("calendar service for %s: %w", userID, err)
	}
	return &GoogleCalendar{srv: srv, calendarID: "primary", logger: logger}, nil
}

// SaveToken writes an OAuth token for userID. Used by the auth callback.
func SaveToken(tokensDir, userID string, tok *oauth2.Token) error {
	if err := os.MkdirAll(tokensDir, 0o700); err != nil {
		return fmt.Errorf("create tokens dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(tokensDir, userID+".json"), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("save token for %s: %w", userID, err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", path, err)
	}
	return tok, nil
}

func (g *GoogleCalendar) Active() bool {
	return g != nil && g.srv != nil
}

func (g *GoogleCalendar) ListEvents(ctx context.Context, start, end string) ([]domain.ExternalEvent, error) {
	call := g.srv.Events.List(g.calendarID).
		TimeMin(start).
		TimeMax(end).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)
	var out []domain.ExternalEvent
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			out = append(out, eventFromAPI(item))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

func (g *GoogleCalendar) CreateEvent(ctx context.Context, ev domain.ExternalEvent) (string, error) {
	created, err := g.srv.Events.Insert(g.calendarID, eventToAPI(ev)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return created.Id, nil
}

func (g *GoogleCalendar) UpdateEvent(ctx context.Context, id string, ev domain.ExternalEvent) error {
	patch := &calendar.Event{}
	if ev.Title != "" {
		patch.Summary = ev.Title
	}
	if ev.Description != "" {
		patch.Description = ev.Description
	}
	if ev.Start != "" {
		patch.Start = eventTime(ev.Start, ev.AllDay)
	}
	if ev.End != "" {
		patch.End = eventTime(ev.End, ev.AllDay)
	}
	if _, err := g.srv.Events.Patch(g.calendarID, id, patch).Context(ctx).Do(); err != nil {
		return fmt.Errorf("patch event %s: %w", id, err)
	}
	return nil
}

func (g *GoogleCalendar) DeleteEvent(ctx context.Context, id string) error {
	if err := g.srv.Events.Delete(g.calendarID, id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	return nil
}

func eventFromAPI(item *calendar.Event) domain.ExternalEvent {
	ev := domain.ExternalEvent{
		EventID:     item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Status:      item.Status,
	}
	if item.Start != nil {
		if item.Start.Date != "" {
			ev.Start = item.Start.Date
			ev.AllDay = true
		} else {
			ev.Start = item.Start.DateTime
		}
	}
	if item.End != nil {
		if item.End.Date != "" {
			ev.End = item.End.Date
		} else {
			ev.End = item.End.DateTime
		}
	}
	return ev
}

func eventToAPI(ev domain.ExternalEvent) *calendar.Event {
	return &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Start:       eventTime(ev.Start, ev.AllDay),
		End:         eventTime(ev.End, ev.AllDay),
	}
}

func eventTime(value string, allDay bool) *calendar.EventDateTime {
	if allDay {
		return &calendar.EventDateTime{Date: value}
	}
	return &calendar.EventDateTime{DateTime: value}
}
