package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/envwatch/enviro-server/internal/aggregation"
	"github.com/envwatch/enviro-server/internal/apperrors"
	"github.com/envwatch/enviro-server/internal/database"
	"github.com/envwatch/enviro-server/internal/metrics"
	"github.com/envwatch/enviro-server/internal/readings"
)

// HistoryController serves aggregated reading history for the dashboard's
// weather and air-quality charts.
type HistoryController struct {
	db       *database.DB
	readings *readings.Store
	pageLen  int
	maxPage  int
	logger   *zap.Logger
}

func NewHistoryController(db *database.DB, store *readings.Store,
	defaultPageLen, maxPageLen int, logger *zap.Logger) *HistoryController {

	return &HistoryController{
		db:       db,
		readings: store,
		pageLen:  defaultPageLen,
		maxPage:  maxPageLen,
		logger:   logger,
	}
}

// RegisterRoutes mounts the history endpoints.
func (c *HistoryController) RegisterRoutes(app *fiber.App) {
	app.Get("/weather", c.Weather)
	app.Get("/air-quality", c.AirQuality)
}

// Weather serves weather-family metrics; defaults to TEMPERATURE.
func (c *HistoryController) Weather(ctx *fiber.Ctx) error {
	return c.history(ctx, metrics.MetricTemperature, false)
}

// AirQuality serves air-quality-family metrics; defaults to AQI.
func (c *HistoryController) AirQuality(ctx *fiber.Ctx) error {
	return c.history(ctx, metrics.MetricAQI, true)
}

func (c *HistoryController) history(ctx *fiber.Ctx, defaultMetric metrics.Metric, airQuality bool) error {
	var q HistoryQuery
	if err := ctx.QueryParser(&q); err != nil {
		return apperrors.NewValidation("query", "malformed query string")
	}
	if err := checkStruct(&q); err != nil {
		return err
	}

	metric := defaultMetric
	if q.Metric != "" {
		parsed, err := metrics.ParseMetric(q.Metric)
		if err != nil {
			return apperrors.NewValidation("metric", err.Error())
		}
		if parsed.IsAirQuality() != airQuality {
			return apperrors.NewValidation("metric", "metric does not belong to this endpoint")
		}
		metric = parsed
	}

	interval, err := aggregation.ParseInterval(q.Interval)
	if err != nil {
		return apperrors.NewValidation("interval", err.Error())
	}

	end := time.Now()
	if t, err := parseDate("endDate", q.EndDate); err != nil {
		return err
	} else if t != nil {
		end = *t
	}

	start := end.Add(-24 * time.Hour)
	if t, err := parseDate("startDate", q.StartDate); err != nil {
		return err
	} else if t != nil {
		start = *t
	}

	if !start.Before(end) {
		return apperrors.NewValidation("startDate", "must be before endDate")
	}

	// 404 for unknown stations rather than an empty series.
	if _, err := c.db.GetStation(ctx.UserContext(), q.StationID); err != nil {
		return err
	}

	points, err := c.readings.Range(ctx.UserContext(), q.StationID, metric, start, end)
	if err != nil {
		return err
	}

	buckets := aggregation.Aggregate(points, interval)

	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit < 1 {
		limit = c.pageLen
	}
	if limit > c.maxPage {
		limit = c.maxPage
	}

	return ctx.JSON(fiber.Map{
		"stationId": q.StationID,
		"metric":    metric,
		"interval":  interval,
		"page":      page,
		"limit":     limit,
		"total":     len(buckets),
		"items":     aggregation.Paginate(buckets, page, limit),
	})
}
