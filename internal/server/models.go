package server

// HTTPError is the unified error payload.
type HTTPError struct {
	Error string `json:"error"`
}

// IngestResponse is returned on a successful upload.
type IngestResponse struct {
	DocumentID int64  `json:"document_id"`
	Filename   string `json:"filename"`
	Tag        string `json:"tag"`
	Uploader   string `json:"uploader"`
	PageCount  int    `json:"page_count"`
	ChunkCount int    `json:"chunk_count"`
	Status     string `json:"status"`
}

// DocumentResponse is one catalog entry.
type DocumentResponse struct {
	ID         int64  `json:"id"`
	Filename   string `json:"filename"`
	Tag        string `json:"tag"`
	UploadedBy string `json:"uploaded_by"`
	PageCount  int    `json:"page_count"`
	CreatedAt  string `json:"created_at"`
}

// ChatRequest asks a question against the tagged corpus. SessionID is
// optional; a fresh conversation gets one assigned.
type ChatRequest struct {
	Question  string `json:"question"`
	Tag       string `json:"tag"`
	SessionID string `json:"session_id"`
}

// ChatResponse carries the answer and the session to continue with.
type ChatResponse struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`
	SessionID  string   `json:"session_id"`
}

// RetrieveRequest runs raw retrieval without generation. Zero TopK and
// Threshold mean the configured defaults.
type RetrieveRequest struct {
	Query     string  `json:"query"`
	Tag       string  `json:"tag"`
	TopK      int     `json:"top_k"`
	Threshold float64 `json:"threshold"`
}
