package slackbot

import (
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/studyhall/attendance/internal/tracker"
)

// stopActionPrefix prefixes the stop button's action ID; the suffix is the
// user ID of the session owner, so the button is bound to one user.
const stopActionPrefix = "stop_"

// fmtHMS formats a duration as H:MM:SS.
func fmtHMS(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}

// TimerBlocks builds the live timer message for an open session: elapsed time
// plus a stop button only the session owner may press.
func TimerBlocks(s tracker.Session, now time.Time) []slack.Block {
	text := fmt.Sprintf("⏱ <@%s> is checked in\n*Elapsed:* %s", s.UserID, fmtHMS(s.Elapsed(now)))

	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", text, false, false),
			nil, nil,
		),
		slack.NewActionBlock(
			"timer_actions",
			slack.NewButtonBlockElement(
				stopActionPrefix+s.UserID, s.UserID,
				slack.NewTextBlockObject("plain_text", "Check out", false, false),
			),
		),
	}
}

// StoppedText renders the final state of a timer message after checkout.
func StoppedText(userID string, iv tracker.Interval, admitted bool) string {
	if !admitted {
		return fmt.Sprintf("🗑 <@%s> checked out after %s — too short, not recorded", userID, fmtHMS(iv.Duration()))
	}
	return fmt.Sprintf("✅ <@%s> checked out\n*Recorded:* %s", userID, fmtHMS(iv.Duration()))
}

// SummaryText renders a one-line total for a named window ("today",
// "this week", ...).
func SummaryText(userID, label string, total time.Duration) string {
	if total == 0 {
		return fmt.Sprintf("<@%s> has no time recorded %s", userID, label)
	}
	return fmt.Sprintf("📚 <@%s> — %s %s", userID, fmtHMS(total), label)
}

// RosterText renders the weekly roster as a text table: one line per user,
// day columns Monday through Sunday, sorted by total.
func RosterText(rows []tracker.RosterRow, from time.Time) string {
	if len(rows) == 0 {
		return "Nobody has recorded time this week yet."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 *Roster — week of %s*\n", from.Format("Jan 2")))
	for i, row := range rows {
		sb.WriteString(fmt.Sprintf("%d. <@%s> — *%s*", i+1, row.UserID, fmtHMS(row.Total)))
		var days []string
		for d, dur := range row.PerDay {
			if dur == 0 {
				continue
			}
			day := from.AddDate(0, 0, d).Weekday().String()[:3]
			days = append(days, fmt.Sprintf("%s %s", day, fmtHMS(dur)))
		}
		if len(days) > 0 {
			sb.WriteString(" (" + strings.Join(days, ", ") + ")")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// HelpText lists the available commands.
func HelpText() string {
	return strings.Join([]string{
		"*Commands*",
		"`/checkin` — start a session",
		"`/checkout` — stop your session",
		"`/daily [today|yesterday]` — your total for a day",
		"`/weekly [this|last]` — your total for a week",
		"`/roster [this|last]` — everyone's week at a glance",
		"`/autotrack on|off` — toggle automatic tracking",
	}, "\n")
}
