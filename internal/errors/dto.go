package errors

// ErrorResponse is the body rendered for every failed API request
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail carries the user facing hint next to the machine readable code
type ErrorDetail struct {
	Code          string         `json:"code"`
	Display       string         `json:"message"`
	Hint          string         `json:"hint,omitempty"`
	InternalError string         `json:"internal_error,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}
