package server

// Request types for the HTTP API with validation tags.

// SwitchRequest is the request body for POST /api/switch.
type SwitchRequest struct {
	Disabled *bool `json:"disabled" validate:"required"`
}

// EventsQuery holds the query parameters of GET /api/events.
type EventsQuery struct {
	Limit  int    `json:"limit" validate:"gte=0,lte=500"`
	Offset int    `json:"offset" validate:"gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=privacy stream archive"`
}

// ValidateStruct runs request validation on v.
func ValidateStruct(v any) *ValidationError {
	if err := validate.Struct(v); err != nil {
		return toValidationError(err)
	}
	return nil
}
