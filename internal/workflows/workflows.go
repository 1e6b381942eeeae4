package workflows

import (
	"path/filepath"
	"strings"
	"time"

	"documind/internal/activities"
	"documind/internal/models"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	QueryGetProgress       = "GetProgress"
	QueryGetDocumentStatus = "GetDocumentStatus"
)

// IngestBatchWorkflow fans the discovered files out to DocumentIngestWorkflow
// children in bounded windows, then writes the batch summary artifact. One
// child failing never aborts its siblings unless StopOnError is set.
func IngestBatchWorkflow(ctx workflow.Context, input IngestBatchInput) (string, error) {
	progress := BatchProgress{
		BatchID:       input.BatchID,
		PerDocument:   map[string]string{},
		ChildWorkflow: map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (BatchProgress, error) {
		return progress, nil
	}); err != nil {
		return "", err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var listOut activities.ListDocumentsOutput
	if err := workflow.ExecuteActivity(ctx, "ListDocumentsActivity", activities.ListDocumentsInput{InputPath: input.InputPath}).Get(ctx, &listOut); err != nil {
		return "", err
	}
	paths := listOut.Paths
	progress.Total = len(paths)
	maxChildren := input.MaxConcurrentChildren
	if maxChildren <= 0 {
		maxChildren = 3
	}

	stopped := false
	for i := 0; i < len(paths) && !stopped; i += maxChildren {
		end := i + maxChildren
		if end > len(paths) {
			end = len(paths)
		}
		futures := make([]workflow.ChildWorkflowFuture, 0, end-i)
		childPaths := make([]string, 0, end-i)
		for _, path := range paths[i:end] {
			progress.PerDocument[path] = "processing"
			workflowID := "document-" + sanitizeID(input.BatchID) + "-" + sanitizeID(filepath.Base(path))
			childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{WorkflowID: workflowID})
			f := workflow.ExecuteChildWorkflow(childCtx, DocumentIngestWorkflow, DocumentIngestInput{
				BatchID:      input.BatchID,
				Path:         path,
				ChunkSize:    input.ChunkSize,
				ChunkOverlap: input.ChunkOverlap,
			})
			futures = append(futures, f)
			childPaths = append(childPaths, path)
			progress.ChildWorkflow[path] = workflowID
		}

		for idx, f := range futures {
			var childStatus string
			err := f.Get(ctx, &childStatus)
			path := childPaths[idx]
			if err != nil {
				progress.Failed++
				progress.PerDocument[path] = "failed"
			} else {
				if childStatus == "failed" {
					progress.Failed++
				} else {
					progress.Done++
				}
				progress.PerDocument[path] = childStatus
			}
			if input.StopOnError && progress.PerDocument[path] == "failed" {
				stopped = true
			}
		}
	}

	_ = workflow.ExecuteActivity(ctx, "WriteBatchSummaryActivity", activities.WriteBatchSummaryInput{
		BatchID: input.BatchID,
		Summary: map[string]any{
			"batch_id":            input.BatchID,
			"total":               progress.Total,
			"successful":          progress.Done,
			"failed":              progress.Failed,
			"per_document_status": progress.PerDocument,
			"stopped_early":       stopped,
			"generated_at":        workflow.Now(ctx),
		},
	}).Get(ctx, nil)

	return "completed", nil
}

// DocumentIngestWorkflow runs one document through extract, chunk, embed and
// write. Content failures (unsupported format, unreadable file, exhausted
// embedding retries, storage constraint violations) mark the document failed
// and complete the workflow; only infrastructure errors propagate.
func DocumentIngestWorkflow(ctx workflow.Context, input DocumentIngestInput) (string, error) {
	state := DocumentState{
		Path:         input.Path,
		CurrentStage: "init",
		Status:       "processing",
		Stages:       map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetDocumentStatus, func() (DocumentState, error) {
		return state, nil
	}); err != nil {
		return "", err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	state.CurrentStage = "compute_document_id"
	state.Stages[state.CurrentStage] = "processing"
	var idOut activities.ComputeDocumentIDOutput
	if err := workflow.ExecuteActivity(ctx, "ComputeDocumentIDActivity", activities.ComputeDocumentIDInput{Path: input.Path}).Get(ctx, &idOut); err != nil {
		return "", err
	}
	state.DocumentID = idOut.DocumentID
	state.Stages[state.CurrentStage] = "done"

	_ = workflow.ExecuteActivity(ctx, "UpdateDocumentStatusActivity", activities.UpdateDocumentStatusInput{
		DocumentID: idOut.DocumentID, Status: "processing",
	}).Get(ctx, nil)

	state.CurrentStage = "extract"
	state.Stages[state.CurrentStage] = "processing"
	var textOut activities.ExtractTextOutput
	if err := workflow.ExecuteActivity(ctx, "ExtractTextActivity", activities.ExtractTextInput{Path: input.Path}).Get(ctx, &textOut); err != nil {
		if isContentError(err) {
			return failDocument(ctx, &state, idOut.DocumentID, err.Error())
		}
		return "", err
	}
	state.Stages[state.CurrentStage] = "done"

	state.CurrentStage = "chunk"
	state.Stages[state.CurrentStage] = "processing"
	var chunkOut activities.ChunkTextOutput
	if err := workflow.ExecuteActivity(ctx, "ChunkTextActivity", activities.ChunkTextInput{
		DocumentID:   idOut.DocumentID,
		Text:         textOut.Text,
		ChunkSize:    input.ChunkSize,
		ChunkOverlap: input.ChunkOverlap,
	}).Get(ctx, &chunkOut); err != nil {
		return "", err
	}
	state.ChunkCount = len(chunkOut.Chunks)
	state.Stages[state.CurrentStage] = "done"

	// The embedder applies its own fixed retry schedule inside the activity,
	// so a second workflow-level attempt would double up on retries.
	state.CurrentStage = "embed"
	state.Stages[state.CurrentStage] = "processing"
	embedCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	var embedOut activities.EmbedChunksOutput
	texts := make([]string, 0, len(chunkOut.Chunks))
	for _, c := range chunkOut.Chunks {
		texts = append(texts, c.Text)
	}
	if len(texts) > 0 {
		if err := workflow.ExecuteActivity(embedCtx, "EmbedChunksActivity", activities.EmbedChunksInput{
			DocumentID: idOut.DocumentID,
			Texts:      texts,
		}).Get(ctx, &embedOut); err != nil {
			return failDocument(ctx, &state, idOut.DocumentID, err.Error())
		}
	}
	state.Stages[state.CurrentStage] = "done"

	state.CurrentStage = "write"
	state.Stages[state.CurrentStage] = "processing"
	doc := documentFromExtract(idOut.DocumentID, input.Path, textOut)
	if err := workflow.ExecuteActivity(ctx, "WriteChunksActivity", activities.WriteChunksInput{
		Document: doc,
		Chunks:   chunkOut.Chunks,
		Vectors:  embedOut.Vectors,
		Model:    embedOut.Model,
	}).Get(ctx, nil); err != nil {
		if isConstraintError(err) {
			return failDocument(ctx, &state, idOut.DocumentID, err.Error())
		}
		return "", err
	}
	state.Stages[state.CurrentStage] = "done"

	state.CurrentStage = "write_artifacts"
	state.Stages[state.CurrentStage] = "processing"
	if err := workflow.ExecuteActivity(ctx, "WriteDocumentArtifactsActivity", activities.WriteDocumentArtifactsInput{
		BatchID:    input.BatchID,
		DocumentID: idOut.DocumentID,
		Metadata: map[string]any{
			"document_id": idOut.DocumentID,
			"path":        input.Path,
			"title":       textOut.Metadata["title"],
			"file_type":   textOut.Metadata["file_type"],
			"chunk_count": len(chunkOut.Chunks),
		},
		Chunks: chunkOut.Chunks,
	}).Get(ctx, nil); err != nil {
		return "", err
	}
	state.Stages[state.CurrentStage] = "done"

	state.CurrentStage = "mark_processed"
	if err := workflow.ExecuteActivity(ctx, "UpdateDocumentStatusActivity", activities.UpdateDocumentStatusInput{
		DocumentID: idOut.DocumentID, Status: "processed",
	}).Get(ctx, nil); err != nil {
		return "", err
	}
	state.CurrentStage = "done"
	state.Status = "processed"
	return state.Status, nil
}

// ReingestFailedWorkflow reruns only the documents marked failed, reusing the
// per-document workflow so the retry follows the exact ingestion path.
func ReingestFailedWorkflow(ctx workflow.Context, input ReingestFailedInput) (string, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var failed activities.ListFailedDocumentsOutput
	if err := workflow.ExecuteActivity(ctx, "ListFailedDocumentsActivity").Get(ctx, &failed); err != nil {
		return "", err
	}

	retried := 0
	for _, d := range failed.Documents {
		if strings.TrimSpace(d.SourcePath) == "" {
			continue
		}
		var out string
		if err := workflow.ExecuteChildWorkflow(ctx, DocumentIngestWorkflow, DocumentIngestInput{
			BatchID:      input.BatchID,
			Path:         d.SourcePath,
			ChunkSize:    input.ChunkSize,
			ChunkOverlap: input.ChunkOverlap,
		}).Get(ctx, &out); err == nil && out == "processed" {
			retried++
		}
	}

	_ = workflow.ExecuteActivity(ctx, "WriteBatchSummaryActivity", activities.WriteBatchSummaryInput{
		BatchID: input.BatchID,
		Summary: map[string]any{
			"batch_id":     input.BatchID,
			"mode":         "reingest_failed",
			"candidates":   len(failed.Documents),
			"recovered":    retried,
			"generated_at": workflow.Now(ctx),
		},
	}).Get(ctx, nil)

	return "completed", nil
}

func failDocument(ctx workflow.Context, state *DocumentState, documentID, reason string) (string, error) {
	state.Status = "failed"
	state.FailReason = reason
	state.Stages[state.CurrentStage] = "failed"
	_ = workflow.ExecuteActivity(ctx, "UpdateDocumentStatusActivity", activities.UpdateDocumentStatusInput{
		DocumentID: documentID, Status: "failed", FailReason: reason,
	}).Get(ctx, nil)
	return state.Status, nil
}

func documentFromExtract(documentID, path string, out activities.ExtractTextOutput) models.Document {
	return models.Document{
		DocumentID: documentID,
		Title:      out.Metadata["title"],
		FileType:   out.Metadata["file_type"],
		SourcePath: path,
		Content:    out.Text,
		Metadata:   out.Metadata,
		Status:     "processed",
	}
}

// isContentError matches failures that are properties of the file itself,
// which mark the document failed instead of erroring the workflow.
func isContentError(err error) bool {
	e := strings.ToLower(err.Error())
	return strings.Contains(e, "unsupported document format") ||
		strings.Contains(e, "no extractable text") ||
		strings.Contains(e, "no such file") ||
		strings.Contains(e, "open pdf") ||
		strings.Contains(e, "parse csv")
}

func isConstraintError(err error) bool {
	e := strings.ToLower(err.Error())
	return strings.Contains(e, "dimension") ||
		strings.Contains(e, "references unknown document") ||
		strings.Contains(e, "constraint")
}

func sanitizeID(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, ".", "-")
	s = strings.ReplaceAll(s, "/", "-")
	return s
}
