package server

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/envwatch/enviro-server/internal/apperrors"
	"github.com/envwatch/enviro-server/internal/database"
	"github.com/envwatch/enviro-server/internal/geo"
	"github.com/envwatch/enviro-server/internal/metrics"
)

// ThresholdController serves threshold CRUD for operators.
type ThresholdController struct {
	db     *database.DB
	logger *zap.Logger
}

func NewThresholdController(db *database.DB, logger *zap.Logger) *ThresholdController {
	return &ThresholdController{db: db, logger: logger}
}

// RegisterRoutes mounts the threshold endpoints.
func (c *ThresholdController) RegisterRoutes(app *fiber.App) {
	thresholds := app.Group("/alert-thresholds")

	thresholds.Get("/", c.List)
	thresholds.Get("/:id", c.Get)
	thresholds.Post("/", c.Create)
	thresholds.Patch("/:id", c.Update)
	thresholds.Delete("/:id", c.Delete)
}

// List returns every threshold.
func (c *ThresholdController) List(ctx *fiber.Ctx) error {
	thresholds, err := c.db.ListThresholds(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(fiber.Map{"items": thresholdViews(thresholds)})
}

// Get returns one threshold by id.
func (c *ThresholdController) Get(ctx *fiber.Ctx) error {
	id, err := parseID(ctx.Params("id"))
	if err != nil {
		return err
	}

	threshold, err := c.db.GetThreshold(ctx.UserContext(), id)
	if err != nil {
		return err
	}
	return ctx.JSON(thresholdView(threshold))
}

// Create validates and stores a new rule.
func (c *ThresholdController) Create(ctx *fiber.Ctx) error {
	var req CreateThresholdRequest
	if err := ctx.BodyParser(&req); err != nil {
		return apperrors.NewValidation("body", "malformed JSON body")
	}
	if err := checkStruct(&req); err != nil {
		return err
	}

	metric, err := metrics.ParseMetric(req.Metric)
	if err != nil {
		return apperrors.NewValidation("metric", err.Error())
	}
	if err := checkArea(req.Area); err != nil {
		return err
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	threshold := &database.AlertThreshold{
		Metric:          metric,
		Operator:        metrics.Operator(req.Operator),
		Value:           *req.Value,
		Level:           metrics.Level(req.Level),
		Area:            req.Area,
		CooldownSeconds: req.CooldownSeconds,
		IsActive:        isActive,
	}

	if err := c.db.CreateThreshold(ctx.UserContext(), threshold); err != nil {
		return err
	}

	c.logger.Info("threshold created",
		zap.Int("threshold_id", threshold.ID),
		zap.String("metric", string(threshold.Metric)))

	return ctx.Status(fiber.StatusCreated).JSON(thresholdView(threshold))
}

// Update applies a partial patch to an existing rule.
func (c *ThresholdController) Update(ctx *fiber.Ctx) error {
	id, err := parseID(ctx.Params("id"))
	if err != nil {
		return err
	}

	var req UpdateThresholdRequest
	if err := ctx.BodyParser(&req); err != nil {
		return apperrors.NewValidation("body", "malformed JSON body")
	}
	if err := checkStruct(&req); err != nil {
		return err
	}

	threshold, err := c.db.GetThreshold(ctx.UserContext(), id)
	if err != nil {
		return err
	}

	if req.Metric != nil {
		metric, err := metrics.ParseMetric(*req.Metric)
		if err != nil {
			return apperrors.NewValidation("metric", err.Error())
		}
		threshold.Metric = metric
	}
	if req.Operator != nil {
		operator, err := metrics.ParseOperator(*req.Operator)
		if err != nil {
			return apperrors.NewValidation("operator", err.Error())
		}
		threshold.Operator = operator
	}
	if req.Value != nil {
		threshold.Value = *req.Value
	}
	if req.Level != nil {
		level, err := metrics.ParseLevel(*req.Level)
		if err != nil {
			return apperrors.NewValidation("level", err.Error())
		}
		threshold.Level = level
	}
	if req.Area != nil {
		if err := checkArea(*req.Area); err != nil {
			return err
		}
		threshold.Area = *req.Area
	}
	if req.CooldownSeconds != nil {
		threshold.CooldownSeconds = *req.CooldownSeconds
	}
	if req.IsActive != nil {
		threshold.IsActive = *req.IsActive
	}

	if err := c.db.UpdateThreshold(ctx.UserContext(), threshold); err != nil {
		return err
	}

	return ctx.JSON(thresholdView(threshold))
}

// Delete removes a rule; alerts it raised are retained for trends.
func (c *ThresholdController) Delete(ctx *fiber.Ctx) error {
	id, err := parseID(ctx.Params("id"))
	if err != nil {
		return err
	}

	if err := c.db.DeleteThreshold(ctx.UserContext(), id); err != nil {
		return err
	}

	return ctx.SendStatus(fiber.StatusNoContent)
}

// checkArea rejects polygons that are present but too degenerate to ever
// match; an absent area legitimately means global scope.
func checkArea(area geo.Polygon) error {
	if area == nil {
		return nil
	}
	if !area.IsUsable() {
		return apperrors.NewValidation("area", "outer ring needs at least 3 points")
	}
	return nil
}

func parseID(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewValidation("id", "must be an integer")
	}
	return id, nil
}

func thresholdViews(thresholds []*database.AlertThreshold) []fiber.Map {
	views := make([]fiber.Map, 0, len(thresholds))
	for _, t := range thresholds {
		views = append(views, thresholdView(t))
	}
	return views
}

func thresholdView(t *database.AlertThreshold) fiber.Map {
	return fiber.Map{
		"id":              t.ID,
		"metric":          t.Metric,
		"operator":        t.Operator,
		"value":           t.Value,
		"level":           t.Level,
		"area":            t.Area,
		"cooldownSeconds": t.CooldownSeconds,
		"isActive":        t.IsActive,
		"createdAt":       t.CreatedAt,
		"updatedAt":       t.UpdatedAt,
	}
}
