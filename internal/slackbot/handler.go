package slackbot

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/studyhall/attendance/internal/calendar"
	"github.com/studyhall/attendance/internal/tracker"
)

// Handler processes Socket Mode events: slash commands and the timer stop
// button. All tracking decisions are delegated to the tracker; the handler
// only translates between Slack payloads and tracker calls.
type Handler struct {
	socket     *socketmode.Client
	tracker    *tracker.Tracker
	cal        *calendar.Calendar
	middleware *Middleware
	logger     zerolog.Logger
	now        func() time.Time
}

// NewHandler creates a new event handler.
func NewHandler(trk *tracker.Tracker, cal *calendar.Calendar, middleware *Middleware, logger zerolog.Logger) *Handler {
	return &Handler{
		tracker:    trk,
		cal:        cal,
		middleware: middleware,
		logger:     logger.With().Str("component", "slack.handler").Logger(),
		now:        time.Now,
	}
}

// HandleEvent routes Socket Mode events to the appropriate handler.
func (h *Handler) HandleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeSlashCommand:
		h.handleSlashCommand(ctx, evt)
	case socketmode.EventTypeInteractive:
		h.handleInteraction(ctx, evt)
	case socketmode.EventTypeConnected:
		h.logger.Info().Msg("socket mode connected")
	default:
		h.logger.Debug().Str("type", string(evt.Type)).Msg("unhandled event type")
	}
}

func (h *Handler) handleSlashCommand(ctx context.Context, evt socketmode.Event) {
	cmd, ok := evt.Data.(slack.SlashCommand)
	if !ok {
		h.ack(evt, nil)
		return
	}

	var resp map[string]interface{}
	if !h.middleware.CheckRateLimit(cmd.UserID) {
		resp = ephemeral("You're sending commands too quickly. Give it a moment.")
	} else {
		resp = h.dispatch(ctx, cmd)
	}
	h.ack(evt, resp)
}

// dispatch executes one slash command and returns the ack payload.
func (h *Handler) dispatch(ctx context.Context, cmd slack.SlashCommand) map[string]interface{} {
	now := h.now()
	args := strings.Fields(cmd.Text)

	h.logger.Info().
		Str("command", cmd.Command).
		Str("user", cmd.UserID).
		Str("text", cmd.Text).
		Msg("slash command")

	switch cmd.Command {
	case "/checkin":
		if _, open := h.tracker.OpenSession(cmd.UserID); open {
			return ephemeral("You're already checked in.")
		}
		if !h.tracker.AutoTrack(cmd.UserID) {
			return ephemeral("Tracking is turned off for you. Run `/autotrack on` first.")
		}
		h.tracker.Start(ctx, cmd.UserID, now, map[string]string{"channel": cmd.ChannelID})
		return ephemeral("Checked in. The timer is running.")

	case "/checkout":
		iv, admitted, wasOpen := h.tracker.Stop(ctx, cmd.UserID, now, "command")
		if !wasOpen {
			return ephemeral("You're not checked in.")
		}
		if !admitted {
			return ephemeral("Checked out after " + fmtHMS(iv.Duration()) + " — too short, not recorded.")
		}
		return ephemeral("Checked out. Recorded " + fmtHMS(iv.Duration()) + ".")

	case "/daily":
		label := "today"
		from, to := h.cal.DayBounds(now)
		if len(args) > 0 && args[0] == "yesterday" {
			label = "yesterday"
			from, to = h.cal.YesterdayBounds(now)
		}
		total := h.tracker.SumRange(cmd.UserID, from, to, now)
		return ephemeral(SummaryText(cmd.UserID, label, total))

	case "/weekly":
		label := "this week"
		from, to := h.cal.WeekBounds(now)
		if len(args) > 0 && args[0] == "last" {
			label = "last week"
			from, to = h.cal.LastWeekBounds(now)
		}
		total := h.tracker.SumRange(cmd.UserID, from, to, now)
		return ephemeral(SummaryText(cmd.UserID, label, total))

	case "/roster":
		from, to := h.cal.WeekBounds(now)
		if len(args) > 0 && args[0] == "last" {
			from, to = h.cal.LastWeekBounds(now)
		}
		rows := h.tracker.Roster(from, to, now)
		return inChannel(RosterText(rows, from))

	case "/autotrack":
		if len(args) == 0 || (args[0] != "on" && args[0] != "off") {
			return ephemeral("Usage: `/autotrack on|off`")
		}
		enabled := args[0] == "on"
		h.tracker.SetAutoTrack(ctx, cmd.UserID, enabled)
		if enabled {
			return ephemeral("Automatic tracking is on.")
		}
		return ephemeral("Automatic tracking is off. Open sessions are unaffected.")

	default:
		return ephemeral(HelpText())
	}
}

func (h *Handler) handleInteraction(ctx context.Context, evt socketmode.Event) {
	h.ack(evt, nil)

	callback, ok := evt.Data.(slack.InteractionCallback)
	if !ok {
		return
	}

	for _, action := range callback.ActionCallback.BlockActions {
		if !strings.HasPrefix(action.ActionID, stopActionPrefix) {
			h.logger.Debug().Str("action", action.ActionID).Msg("unhandled interaction")
			continue
		}

		owner := strings.TrimPrefix(action.ActionID, stopActionPrefix)
		if callback.User.ID != owner {
			h.logger.Warn().
				Str("user", callback.User.ID).
				Str("owner", owner).
				Msg("stop button pressed by non-owner, ignoring")
			continue
		}

		_, admitted, wasOpen := h.tracker.Stop(ctx, owner, h.now(), "button")
		h.logger.Info().
			Str("user", owner).
			Bool("was_open", wasOpen).
			Bool("admitted", admitted).
			Msg("stop button handled")
	}
}

// ack acknowledges a Socket Mode event, optionally with a response payload.
func (h *Handler) ack(evt socketmode.Event, payload map[string]interface{}) {
	if h.socket == nil || evt.Request == nil {
		return
	}
	if payload == nil {
		h.socket.Ack(*evt.Request)
		return
	}
	h.socket.Ack(*evt.Request, payload)
}

func ephemeral(text string) map[string]interface{} {
	return map[string]interface{}{"response_type": "ephemeral", "text": text}
}

func inChannel(text string) map[string]interface{} {
	return map[string]interface{}{"response_type": "in_channel", "text": text}
}
