package models

// These structs define the JSON payloads for the HTTP functions and the
// CloudEvent data the event-driven functions receive.

// GCSEvent is the payload of a storage "object finalized" CloudEvent.
type GCSEvent struct {
	Bucket      string            `json:"bucket"`
	Name        string            `json:"name"`
	ContentType string            `json:"contentType"`
	Size        string            `json:"size"`
	Metadata    map[string]string `json:"metadata"`
}

// AnswerRequest is the input for the answer function.
type AnswerRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversationId,omitempty"`
	UserID         string `json:"userId,omitempty"`
}

// AnswerMessage is the assistant-role message returned to the client.
type AnswerMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Sources []Source `json:"sources"`
}

// AnswerResponse is the output of the answer function.
type AnswerResponse struct {
	Message        AnswerMessage `json:"message"`
	ConversationID string        `json:"conversationId"`
	Mode           Mode          `json:"mode"`
	Cached         bool          `json:"cached"`
}

// RetrieveRequest is the input for the retrieve function.
type RetrieveRequest struct {
	Query    string      `json:"query"`
	Limit    int         `json:"limit"`
	Filters  ChunkFilter `json:"filters,omitempty"`
	MinScore float64     `json:"minScore,omitempty"`
}

// RetrievedDoc is one hit in a retrieve response.
type RetrievedDoc struct {
	ChunkID    string        `json:"chunkId"`
	DocumentID string        `json:"documentId"`
	Title      string        `json:"title"`
	Content    string        `json:"content"`
	Score      float64       `json:"score"`
	PageNumber int           `json:"pageNumber,omitempty"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// RetrieveResponse is the output of the retrieve function.
type RetrieveResponse struct {
	Documents  []RetrievedDoc `json:"documents"`
	TotalCount int            `json:"totalCount"`
	Query      string         `json:"query"`
	Context    string         `json:"context,omitempty"`
}

// BatchIngestRequest is the input for the batch-ingest function.
type BatchIngestRequest struct {
	Bucket      string `json:"bucket"`
	Prefix      string `json:"prefix"`
	RetryFailed bool   `json:"retryFailed,omitempty"`
}

// BatchIngestResponse summarises a batch run.
type BatchIngestResponse struct {
	Listed      int      `json:"listed"`
	Ingested    int      `json:"ingested"`
	Skipped     int      `json:"skipped"`
	Failed      int      `json:"failed"`
	FailedPaths []string `json:"failedPaths,omitempty"`
}

// CleanupResponse is the output of the scheduled cleanup function.
type CleanupResponse struct {
	LimitRecordsDeleted  int `json:"limitRecordsDeleted"`
	StatusRecordsDeleted int `json:"statusRecordsDeleted"`
}

// DocumentResetRequest is the body of a reset call on the documents function.
type DocumentResetRequest struct {
	DocumentID string `json:"documentId"`
}

// DocumentStats describes one ingested document and its persisted chunks.
type DocumentStats struct {
	Status     DocumentStatus `json:"status"`
	ChunkCount int            `json:"storedChunks"`
}
