package workflows

type IngestBatchInput struct {
	BatchID               string `json:"batch_id"`
	InputPath             string `json:"input_path"`
	MaxConcurrentChildren int    `json:"max_concurrent_children"`
	StopOnError           bool   `json:"stop_on_error"`
	ChunkSize             int    `json:"chunk_size"`
	ChunkOverlap          int    `json:"chunk_overlap"`
}

type DocumentIngestInput struct {
	BatchID      string `json:"batch_id"`
	Path         string `json:"path"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
}

type ReingestFailedInput struct {
	BatchID               string `json:"batch_id"`
	MaxConcurrentChildren int    `json:"max_concurrent_children"`
	ChunkSize             int    `json:"chunk_size"`
	ChunkOverlap          int    `json:"chunk_overlap"`
}

type BatchProgress struct {
	BatchID       string            `json:"batch_id"`
	Total         int               `json:"total"`
	Done          int               `json:"done"`
	Failed        int               `json:"failed"`
	PerDocument   map[string]string `json:"per_document_status"`
	ChildWorkflow map[string]string `json:"child_workflow_ids,omitempty"`
}

type DocumentState struct {
	DocumentID   string            `json:"document_id"`
	Path         string            `json:"path"`
	CurrentStage string            `json:"current_stage"`
	Status       string            `json:"status"`
	FailReason   string            `json:"fail_reason,omitempty"`
	ChunkCount   int               `json:"chunk_count"`
	Stages       map[string]string `json:"stages"`
}
