package model

// Response is the uniform API envelope. Every endpoint, including auth
// failures, responds with this shape.
type Response struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Data    interface{}  `json:"data,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
	Error   string       `json:"error,omitempty"` // verbose detail, development only
}

// FieldError reports a single request-validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
