package server

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/envwatch/enviro-server/internal/apperrors"
	"github.com/envwatch/enviro-server/internal/geo"
)

var validate = validator.New()

// checkStruct runs validator tags and converts failures into the field-level
// ValidationError the API error handler renders as a 400.
func checkStruct(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = "failed " + fe.Tag() + " validation"
	}
	return &apperrors.ValidationError{Fields: fields}
}

// CreateAlertRequest is the manual alert creation payload. createdBy is the
// opaque authenticated-caller identity supplied by the API gateway.
type CreateAlertRequest struct {
	Level     string      `json:"level" validate:"required,oneof=LOW MEDIUM HIGH CRITICAL"`
	Title     string      `json:"title" validate:"required"`
	Message   string      `json:"message"`
	Area      geo.Polygon `json:"area"`
	StationID *string     `json:"stationId"`
	CreatedBy string      `json:"createdBy" validate:"required"`
}

// CreateThresholdRequest creates a standing rule.
type CreateThresholdRequest struct {
	Metric          string      `json:"metric" validate:"required"`
	Operator        string      `json:"operator" validate:"required,oneof=GT GTE LT LTE"`
	Value           *float64    `json:"value" validate:"required"`
	Level           string      `json:"level" validate:"required,oneof=LOW MEDIUM HIGH CRITICAL"`
	Area            geo.Polygon `json:"area"`
	CooldownSeconds int         `json:"cooldownSeconds" validate:"gte=0"`
	IsActive        *bool       `json:"isActive"`
}

// UpdateThresholdRequest patches a rule; absent fields stay unchanged.
type UpdateThresholdRequest struct {
	Metric          *string      `json:"metric"`
	Operator        *string      `json:"operator"`
	Value           *float64     `json:"value"`
	Level           *string      `json:"level"`
	Area            *geo.Polygon `json:"area"`
	CooldownSeconds *int         `json:"cooldownSeconds" validate:"omitempty,gte=0"`
	IsActive        *bool        `json:"isActive"`
}

// ListAlertsQuery is the paged alert listing filter.
type ListAlertsQuery struct {
	Page      int    `query:"page"`
	Limit     int    `query:"limit"`
	Level     string `query:"level"`
	Type      string `query:"type"` // "automatic" or "manual"
	StartDate string `query:"startDate"`
	EndDate   string `query:"endDate"`
}

// HistoryQuery selects aggregated readings for one station and metric.
type HistoryQuery struct {
	StationID string `query:"stationId" validate:"required"`
	Metric    string `query:"metric"`
	StartDate string `query:"startDate"`
	EndDate   string `query:"endDate"`
	Page      int    `query:"page"`
	Limit     int    `query:"limit"`
	Interval  string `query:"interval"`
}

// parseDate accepts RFC3339 or a bare calendar date.
func parseDate(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return &t, nil
	}
	return nil, apperrors.NewValidation(field, "must be RFC3339 or YYYY-MM-DD")
}
