package dto

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Message string `json:"message"`
}

// HealthResponse is served by the liveness check
type HealthResponse struct {
	Status string `json:"status"`
}

// WorkflowStartedResponse identifies a workflow started on temporal
type WorkflowStartedResponse struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}
