package server

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/envwatch/enviro-server/internal/alerting"
	"github.com/envwatch/enviro-server/internal/apperrors"
	"github.com/envwatch/enviro-server/internal/database"
	"github.com/envwatch/enviro-server/internal/metrics"
)

// AlertController serves the alert query and management surface.
type AlertController struct {
	lifecycle *alerting.Lifecycle
	scheduler *alerting.Scheduler
	pageLen   int
	maxPage   int
	logger    *zap.Logger
}

func NewAlertController(lifecycle *alerting.Lifecycle, scheduler *alerting.Scheduler,
	defaultPageLen, maxPageLen int, logger *zap.Logger) *AlertController {

	return &AlertController{
		lifecycle: lifecycle,
		scheduler: scheduler,
		pageLen:   defaultPageLen,
		maxPage:   maxPageLen,
		logger:    logger,
	}
}

// RegisterRoutes mounts the alert endpoints.
func (c *AlertController) RegisterRoutes(app *fiber.App) {
	alerts := app.Group("/alerts")

	alerts.Get("/", c.List)
	alerts.Get("/active", c.Active)
	alerts.Get("/stats", c.Stats)
	alerts.Get("/trend", c.Trend)
	alerts.Post("/", c.Create)
	alerts.Post("/trigger-check", c.TriggerCheck)
	alerts.Post("/:id/resolve", c.Resolve)
	alerts.Get("/:id", c.Get)
}

// List returns a filtered, paginated alert history.
func (c *AlertController) List(ctx *fiber.Ctx) error {
	var q ListAlertsQuery
	if err := ctx.QueryParser(&q); err != nil {
		return apperrors.NewValidation("query", "malformed query string")
	}

	filter := alerting.ListFilter{
		Page:  q.Page,
		Limit: c.clampLimit(q.Limit),
	}
	if filter.Page < 1 {
		filter.Page = 1
	}

	if q.Level != "" {
		level, err := metrics.ParseLevel(q.Level)
		if err != nil {
			return apperrors.NewValidation("level", err.Error())
		}
		filter.Level = &level
	}

	switch q.Type {
	case "":
	case "automatic":
		automatic := true
		filter.Automatic = &automatic
	case "manual":
		automatic := false
		filter.Automatic = &automatic
	default:
		return apperrors.NewValidation("type", "must be automatic or manual")
	}

	start, err := parseDate("startDate", q.StartDate)
	if err != nil {
		return err
	}
	filter.StartDate = start

	end, err := parseDate("endDate", q.EndDate)
	if err != nil {
		return err
	}
	filter.EndDate = end

	alerts, total, err := c.lifecycle.List(ctx.UserContext(), filter)
	if err != nil {
		return err
	}

	return ctx.JSON(fiber.Map{
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
		"items": alertViews(alerts),
	})
}

// Active returns all currently ACTIVE alerts.
func (c *AlertController) Active(ctx *fiber.Ctx) error {
	alerts, err := c.lifecycle.Active(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(fiber.Map{"items": alertViews(alerts)})
}

// Get returns one alert by id.
func (c *AlertController) Get(ctx *fiber.Ctx) error {
	alert, err := c.lifecycle.Get(ctx.UserContext(), ctx.Params("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(alertView(alert))
}

// Create records a manual alert. Manual alerts always carry the creator
// identity and are exempt from the per-threshold uniqueness key.
func (c *AlertController) Create(ctx *fiber.Ctx) error {
	var req CreateAlertRequest
	if err := ctx.BodyParser(&req); err != nil {
		return apperrors.NewValidation("body", "malformed JSON body")
	}
	if err := checkStruct(&req); err != nil {
		return err
	}

	createdBy := req.CreatedBy
	alert, _, err := c.lifecycle.Raise(ctx.UserContext(), alerting.RaiseSpec{
		Level:       metrics.Level(req.Level),
		Title:       req.Title,
		Message:     req.Message,
		Area:        req.Area,
		IsAutomatic: false,
		StationID:   req.StationID,
		CreatedBy:   &createdBy,
	})
	if err != nil {
		return err
	}

	return ctx.Status(fiber.StatusCreated).JSON(alertView(alert))
}

// Resolve closes an alert manually.
func (c *AlertController) Resolve(ctx *fiber.Ctx) error {
	if err := c.lifecycle.Resolve(ctx.UserContext(), ctx.Params("id"), time.Now()); err != nil {
		return err
	}
	return ctx.JSON(fiber.Map{"status": "resolved"})
}

// TriggerCheck forces one evaluator tick outside the schedule. It contends
// on the same guard as scheduled ticks and returns 409 when one is running.
func (c *AlertController) TriggerCheck(ctx *fiber.Ctx) error {
	if err := c.scheduler.TriggerNow(ctx.UserContext()); err != nil {
		return err
	}
	return ctx.JSON(fiber.Map{"status": "completed"})
}

// Stats returns alert totals per severity, zero-filled.
func (c *AlertController) Stats(ctx *fiber.Ctx) error {
	stats, err := c.lifecycle.StatsByLevel(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(stats)
}

// Trend returns the per-day alert counts over the requested window.
func (c *AlertController) Trend(ctx *fiber.Ctx) error {
	days := ctx.QueryInt("days", 30)
	trend, err := c.lifecycle.Trend(ctx.UserContext(), days)
	if err != nil {
		return err
	}
	return ctx.JSON(fiber.Map{"items": trend})
}

func (c *AlertController) clampLimit(limit int) int {
	if limit < 1 {
		return c.pageLen
	}
	if limit > c.maxPage {
		return c.maxPage
	}
	return limit
}

func alertViews(alerts []*database.Alert) []fiber.Map {
	views := make([]fiber.Map, 0, len(alerts))
	for _, a := range alerts {
		views = append(views, alertView(a))
	}
	return views
}

func alertView(a *database.Alert) fiber.Map {
	view := fiber.Map{
		"id":          a.ID,
		"thresholdId": a.ThresholdID,
		"level":       a.Level,
		"title":       a.Title,
		"message":     a.Message,
		"area":        a.Area,
		"isAutomatic": a.IsAutomatic,
		"stationId":   a.StationID,
		"status":      a.Status,
		"sentAt":      a.SentAt,
		"sentCount":   a.SentCount,
		"createdBy":   a.CreatedBy,
		"createdAt":   a.CreatedAt,
		"resolvedAt":  a.ResolvedAt,
	}
	if len(a.SourceData) > 0 {
		view["sourceData"] = json.RawMessage(a.SourceData)
	}
	return view
}
