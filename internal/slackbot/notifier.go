package slackbot

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	aerrors "github.com/studyhall/attendance/internal/errors"
	"github.com/studyhall/attendance/internal/tracker"
)

// handle locates a live timer message. Handles live only in memory: after a
// restart they are rebuilt lazily by reposting on the next refresh cycle.
type handle struct {
	channel string
	ts      string
}

// Notifier posts and maintains the per-session timer messages. It implements
// the tracker's notification contract; failures are reported to the caller
// and never block tracking.
type Notifier struct {
	mu      sync.Mutex
	api     BotAPI
	handles map[string]handle
	logger  zerolog.Logger
}

// NewNotifier creates a Notifier. The API client is attached later by the
// app, once the Slack connection exists.
func NewNotifier(logger zerolog.Logger) *Notifier {
	return &Notifier{
		handles: make(map[string]handle),
		logger:  logger.With().Str("component", "slack.notifier").Logger(),
	}
}

// SetAPI attaches the Slack client.
func (n *Notifier) SetAPI(api BotAPI) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.api = api
}

func (n *Notifier) client() BotAPI {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.api
}

// SessionOpened posts the initial timer message. Sessions without a channel
// in their metadata have no visible timer and are skipped.
func (n *Notifier) SessionOpened(ctx context.Context, s tracker.Session) error {
	return n.post(s, time.Now())
}

// SessionRefreshed updates the timer message with the current elapsed time.
// A session without a handle (after a restart) gets its message reposted.
func (n *Notifier) SessionRefreshed(ctx context.Context, s tracker.Session, now time.Time) error {
	api := n.client()
	if api == nil {
		return nil
	}

	n.mu.Lock()
	h, ok := n.handles[s.UserID]
	n.mu.Unlock()
	if !ok {
		return n.post(s, now)
	}

	_, _, _, err := api.UpdateMessage(h.channel, h.ts,
		slack.MsgOptionBlocks(TimerBlocks(s, now)...))
	if err != nil {
		// Drop the handle so the next cycle reposts instead of retrying a
		// possibly deleted message.
		n.mu.Lock()
		delete(n.handles, s.UserID)
		n.mu.Unlock()
		return &aerrors.APIError{Service: "slack", Message: "update timer", Err: err}
	}
	return nil
}

// SessionClosed finalizes the timer message: the stop button is removed and
// the outcome is shown. Without a handle the final state is posted fresh.
func (n *Notifier) SessionClosed(ctx context.Context, s tracker.Session, iv tracker.Interval, admitted bool) error {
	api := n.client()
	if api == nil {
		return nil
	}

	n.mu.Lock()
	h, ok := n.handles[s.UserID]
	delete(n.handles, s.UserID)
	n.mu.Unlock()

	text := StoppedText(s.UserID, iv, admitted)
	if ok {
		_, _, _, err := api.UpdateMessage(h.channel, h.ts,
			slack.MsgOptionText(text, false),
			slack.MsgOptionBlocks())
		if err != nil {
			return &aerrors.APIError{Service: "slack", Message: "finalize timer", Err: err}
		}
		return nil
	}

	channel := s.Meta["channel"]
	if channel == "" {
		return nil
	}
	if _, _, err := api.PostMessage(channel, slack.MsgOptionText(text, false)); err != nil {
		return &aerrors.APIError{Service: "slack", Message: "post close notice", Err: err}
	}
	return nil
}

// post writes a fresh timer message and records its handle.
func (n *Notifier) post(s tracker.Session, now time.Time) error {
	api := n.client()
	if api == nil {
		return nil
	}
	channel := s.Meta["channel"]
	if channel == "" {
		n.logger.Debug().Str("user", s.UserID).Msg("session has no channel, skipping timer message")
		return nil
	}

	_, ts, err := api.PostMessage(channel, slack.MsgOptionBlocks(TimerBlocks(s, now)...))
	if err != nil {
		return &aerrors.APIError{Service: "slack", Message: "post timer", Err: err}
	}

	n.mu.Lock()
	n.handles[s.UserID] = handle{channel: channel, ts: ts}
	n.mu.Unlock()
	return nil
}
