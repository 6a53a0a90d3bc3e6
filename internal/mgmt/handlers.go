package mgmt

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/studyhall/attendance/internal/calendar"
	"github.com/studyhall/attendance/internal/health"
	"github.com/studyhall/attendance/internal/tracker"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	tracker   *tracker.Tracker
	cal       *calendar.Calendar
	checker   *health.Checker
	rtCfg     *RuntimeConfig
	logger    zerolog.Logger
	startTime time.Time
	now       func() time.Time
}

// RuntimeConfig is the read-only configuration view exposed by the API.
type RuntimeConfig struct {
	Environment        string
	LogLevel           string
	Timezone           string
	MinSessionDuration time.Duration
	RetentionWeeks     int
	MgmtListenAddr     string
	AuthMode           string
	RateLimitRPS       int
	RateLimitBurst     int
	SlackEnabled       bool
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(trk *tracker.Tracker, cal *calendar.Calendar, checker *health.Checker, rtCfg *RuntimeConfig, logger zerolog.Logger) *Handlers {
	return &Handlers{
		tracker:   trk,
		cal:       cal,
		checker:   checker,
		rtCfg:     rtCfg,
		logger:    logger.With().Str("component", "handlers").Logger(),
		startTime: time.Now(),
		now:       time.Now,
	}
}

// windowBounds resolves a named window to concrete bounds.
func (h *Handlers) windowBounds(window string, now time.Time) (time.Time, time.Time, bool) {
	switch window {
	case "today":
		from, to := h.cal.DayBounds(now)
		return from, to, true
	case "yesterday":
		from, to := h.cal.YesterdayBounds(now)
		return from, to, true
	case "this-week":
		from, to := h.cal.WeekBounds(now)
		return from, to, true
	case "last-week":
		from, to := h.cal.LastWeekBounds(now)
		return from, to, true
	}
	return time.Time{}, time.Time{}, false
}

// queryBounds resolves the window for a request: either an explicit from/to
// pair in RFC 3339, or a named window defaulting to defaultWindow. On a bad
// request the problem response is already written and ok is false.
func (h *Handlers) queryBounds(c *fiber.Ctx, now time.Time, defaultWindow string) (from, to time.Time, ok bool, err error) {
	fromStr, toStr := c.Query("from"), c.Query("to")
	if fromStr != "" || toStr != "" {
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return from, to, false, problemResponse(c, fiber.StatusBadRequest,
				"invalid_from", "Bad Request",
				"from must be an RFC 3339 timestamp")
		}
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			return from, to, false, problemResponse(c, fiber.StatusBadRequest,
				"invalid_to", "Bad Request",
				"to must be an RFC 3339 timestamp")
		}
		if !from.Before(to) {
			return from, to, false, problemResponse(c, fiber.StatusBadRequest,
				"invalid_range", "Bad Request",
				"from must be before to")
		}
		return from, to, true, nil
	}

	window := c.Query("window", defaultWindow)
	from, to, found := h.windowBounds(window, now)
	if !found {
		return from, to, false, problemResponse(c, fiber.StatusBadRequest,
			"invalid_window", "Bad Request",
			"window must be one of today, yesterday, this-week, last-week")
	}
	return from, to, true, nil
}

// UserTotal handles GET /v1/users/:id/total.
func (h *Handlers) UserTotal(c *fiber.Ctx) error {
	userID := c.Params("id")
	now := h.now()

	from, to, ok, err := h.queryBounds(c, now, "today")
	if !ok {
		return err
	}

	total := h.tracker.SumRange(userID, from, to, now)
	_, open := h.tracker.OpenSession(userID)

	return c.JSON(TotalResponse{
		UserID:       userID,
		From:         from,
		To:           to,
		TotalSeconds: int64(total / time.Second),
		Open:         open,
	})
}

// Roster handles GET /v1/roster. Only week windows are supported because the
// per-day buckets cover exactly one week.
func (h *Handlers) Roster(c *fiber.Ctx) error {
	now := h.now()

	window := c.Query("window", "this-week")
	if window != "this-week" && window != "last-week" {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_window", "Bad Request",
			"window must be this-week or last-week")
	}
	from, to, _ := h.windowBounds(window, now)

	rows := h.tracker.Roster(from, to, now)
	entries := make([]RosterEntry, 0, len(rows))
	for _, row := range rows {
		e := RosterEntry{
			UserID:       row.UserID,
			TotalSeconds: int64(row.Total / time.Second),
		}
		for i, d := range row.PerDay {
			e.DaySeconds[i] = int64(d / time.Second)
		}
		entries = append(entries, e)
	}

	return c.JSON(RosterResponse{From: from, To: to, Entries: entries})
}

// OpenSessions handles GET /v1/sessions/open.
func (h *Handlers) OpenSessions(c *fiber.Ctx) error {
	now := h.now()

	sessions := h.tracker.OpenSessions()
	entries := make([]OpenSessionEntry, 0, len(sessions))
	for _, s := range sessions {
		entries = append(entries, OpenSessionEntry{
			UserID:         s.UserID,
			Start:          s.Start,
			ElapsedSeconds: int64(s.Elapsed(now) / time.Second),
		})
	}

	return c.JSON(OpenSessionsResponse{Sessions: entries})
}

// HealthDetail handles GET /v1/health.
func (h *Handlers) HealthDetail(c *fiber.Ctx) error {
	results := h.checker.RunAll(c.Context())

	checks := make(map[string]string, len(results))
	overall := "ok"
	for name, status := range results {
		checks[name] = string(status)
		if status == health.StatusDown {
			overall = "degraded"
		}
	}

	return c.JSON(HealthDetailResponse{
		Status: overall,
		Checks: checks,
		Uptime: time.Since(h.startTime).Round(time.Second).String(),
	})
}

// GetConfig handles GET /v1/config.
func (h *Handlers) GetConfig(c *fiber.Ctx) error {
	cfg := h.rtCfg
	return c.JSON(ConfigResponse{
		Environment:       cfg.Environment,
		LogLevel:          cfg.LogLevel,
		Timezone:          cfg.Timezone,
		MinSessionSeconds: int64(cfg.MinSessionDuration / time.Second),
		RetentionWeeks:    cfg.RetentionWeeks,
		MgmtListenAddr:    cfg.MgmtListenAddr,
		AuthMode:          cfg.AuthMode,
		RateLimitRPS:      cfg.RateLimitRPS,
		RateLimitBurst:    cfg.RateLimitBurst,
		SlackEnabled:      cfg.SlackEnabled,
	})
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	if !h.checker.IsReady(c.Context()) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
		})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}
