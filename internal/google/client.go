// Package google pulls events from the Google Calendar API and checks the
// OAuth authentication precondition for the sync engine.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/calsnap/calsnap/internal/model"
)

// Client fetches events for a single Google calendar. It implements the
// engine's EventSource and Authenticator contracts; the sourceID passed to
// FetchEvents is the calendar ID (e.g. "primary").
type Client struct {
	oauthCfg  *oauth2.Config
	tokenFile string
	log       *slog.Logger
}

// NewClient parses the OAuth client credentials JSON and returns a Client
// that loads its user token from tokenFile.
func NewClient(credentialsFile, tokenFile string, logger *slog.Logger) (*Client, error) {
	credJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file %q: %w", credentialsFile, err)
	}
	oauthCfg, err := google.ConfigFromJSON(credJSON, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials file %q: %w", credentialsFile, err)
	}
	return &Client{
		oauthCfg:  oauthCfg,
		tokenFile: tokenFile,
		log:       logger,
	}, nil
}

// IsAuthenticated reports whether a usable OAuth token is on disk: either
// still valid, or expired but refreshable. Missing or unreadable tokens
// require the user to run login again.
func (c *Client) IsAuthenticated(context.Context) bool {
	tok, err := c.loadToken()
	if err != nil {
		return false
	}
	return tok.Valid() || tok.RefreshToken != ""
}

// FetchEvents lists upcoming events for calendarID within the lookahead
// window, following pagination up to maxCount events. Recurring events are
// expanded by the API (SingleEvents), so each returned event is concrete.
func (c *Client) FetchEvents(ctx context.Context, calendarID string, maxCount, lookaheadWeeks int) ([]model.Event, error) {
	tok, err := c.loadToken()
	if err != nil {
		return nil, fmt.Errorf("loading OAuth token: %w", err)
	}

	svc, err := calendar.NewService(ctx,
		option.WithHTTPClient(c.oauthCfg.Client(ctx, tok)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating calendar service: %w", err)
	}

	now := time.Now().UTC()
	horizon := now.AddDate(0, 0, 7*lookaheadWeeks)

	var (
		events    []model.Event
		pageToken string
	)
	for {
		call := svc.Events.List(calendarID).
			Context(ctx).
			ShowDeleted(false).
			SingleEvents(true).
			OrderBy("startTime").
			TimeMin(now.Add(-24 * time.Hour).Format(time.RFC3339)).
			TimeMax(horizon.Format(time.RFC3339))
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("listing events for %q: %w", calendarID, err)
		}

		for _, item := range page.Items {
			ev, err := convertEvent(item)
			if err != nil {
				c.log.Warn("skipping unparseable event", "id", item.Id, "error", err)
				continue
			}
			events = append(events, ev)
			if maxCount > 0 && len(events) >= maxCount {
				return events, nil
			}
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}

	c.log.Debug("Google Calendar fetch complete", "calendar", calendarID, "events", len(events))
	return events, nil
}

// convertEvent maps a Google Calendar event to the engine's model. All-day
// events arrive as date-only strings; timed events as RFC 3339.
func convertEvent(item *calendar.Event) (model.Event, error) {
	ev := model.Event{
		ID:       item.Id,
		Title:    item.Summary,
		Location: item.Location,
	}

	if item.Start == nil || item.End == nil {
		return ev, fmt.Errorf("event %s has no start or end", item.Id)
	}

	if item.Start.Date != "" {
		ev.AllDay = true
		start, err := time.Parse("2006-01-02", item.Start.Date)
		if err != nil {
			return ev, fmt.Errorf("parsing all-day start %q: %w", item.Start.Date, err)
		}
		end, err := time.Parse("2006-01-02", item.End.Date)
		if err != nil {
			return ev, fmt.Errorf("parsing all-day end %q: %w", item.End.Date, err)
		}
		ev.Start = start.UTC()
		ev.End = end.UTC()
		return ev, nil
	}

	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return ev, fmt.Errorf("parsing start %q: %w", item.Start.DateTime, err)
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		return ev, fmt.Errorf("parsing end %q: %w", item.End.DateTime, err)
	}
	ev.Start = start.UTC()
	ev.End = end.UTC()
	return ev, nil
}

func (c *Client) loadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(c.tokenFile)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decoding token file %q: %w", c.tokenFile, err)
	}
	return &tok, nil
}

// SaveToken persists an OAuth token for later runs. Used by the login flow.
func (c *Client) SaveToken(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	if err := os.WriteFile(c.tokenFile, data, 0o600); err != nil {
		return fmt.Errorf("writing token file %q: %w", c.tokenFile, err)
	}
	return nil
}
