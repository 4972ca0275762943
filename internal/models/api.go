package models

// UnprocessedResponse is the body of GET /get-unprocessed.
type UnprocessedResponse struct {
	Success          bool     `json:"success"`
	Count            int      `json:"count"`
	Records          []Record `json:"records"`
	TotalUnprocessed int      `json:"total_unprocessed"`
}

// MarkProcessedRequest is the body of POST /mark-processed. Either IDs or
// MarkAll must be set.
type MarkProcessedRequest struct {
	IDs     []string `json:"ids"`
	MarkAll bool     `json:"mark_all"`
}

// MarkProcessedResponse is the body answered to MarkProcessedRequest.
type MarkProcessedResponse struct {
	Success          bool     `json:"success"`
	Marked           int      `json:"marked"`
	TotalProcessed   int      `json:"total_processed"`
	AlreadyProcessed []string `json:"already_processed,omitempty"`
	Unknown          []string `json:"unknown,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
