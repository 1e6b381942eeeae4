package workflows

import (
	"context"
	"errors"
	"testing"

	"documind/internal/activities"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
)

func registerActivityName[T any](env *testsuite.TestWorkflowEnvironment, name string, fn T) {
	env.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

func registerDocumentActivities(env *testsuite.TestWorkflowEnvironment) {
	registerActivityName(env, "ComputeDocumentIDActivity", func(context.Context, activities.ComputeDocumentIDInput) (activities.ComputeDocumentIDOutput, error) {
		return activities.ComputeDocumentIDOutput{}, nil
	})
	registerActivityName(env, "UpdateDocumentStatusActivity", func(context.Context, activities.UpdateDocumentStatusInput) error { return nil })
	registerActivityName(env, "ExtractTextActivity", func(context.Context, activities.ExtractTextInput) (activities.ExtractTextOutput, error) {
		return activities.ExtractTextOutput{}, nil
	})
	registerActivityName(env, "ChunkTextActivity", func(context.Context, activities.ChunkTextInput) (activities.ChunkTextOutput, error) {
		return activities.ChunkTextOutput{}, nil
	})
	registerActivityName(env, "EmbedChunksActivity", func(context.Context, activities.EmbedChunksInput) (activities.EmbedChunksOutput, error) {
		return activities.EmbedChunksOutput{}, nil
	})
	registerActivityName(env, "WriteChunksActivity", func(context.Context, activities.WriteChunksInput) (activities.WriteChunksOutput, error) {
		return activities.WriteChunksOutput{}, nil
	})
	registerActivityName(env, "WriteDocumentArtifactsActivity", func(context.Context, activities.WriteDocumentArtifactsInput) error { return nil })
}

func TestDocumentIngestWorkflowSuccess(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(DocumentIngestWorkflow)
	registerDocumentActivities(env)

	env.OnActivity("ComputeDocumentIDActivity", mock.Anything, activities.ComputeDocumentIDInput{Path: "/tmp/handbook.md"}).
		Return(activities.ComputeDocumentIDOutput{DocumentID: "doc123"}, nil)
	env.OnActivity("UpdateDocumentStatusActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("ExtractTextActivity", mock.Anything, activities.ExtractTextInput{Path: "/tmp/handbook.md"}).
		Return(activities.ExtractTextOutput{Text: "Handbook body.", Metadata: map[string]string{"title": "Handbook", "file_type": "md"}}, nil)
	env.OnActivity("ChunkTextActivity", mock.Anything, mock.Anything).
		Return(activities.ChunkTextOutput{Chunks: []activities.ChunkItem{{ChunkID: "c1", DocumentID: "doc123", ChunkIndex: 0, Text: "Handbook body."}}}, nil)
	env.OnActivity("EmbedChunksActivity", mock.Anything, mock.Anything).
		Return(activities.EmbedChunksOutput{Vectors: [][]float32{{0.1, 0.2}}, Model: "mock-embed"}, nil)
	env.OnActivity("WriteChunksActivity", mock.Anything, mock.Anything).
		Return(activities.WriteChunksOutput{ChunkCount: 1}, nil)
	env.OnActivity("WriteDocumentArtifactsActivity", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(DocumentIngestWorkflow, DocumentIngestInput{BatchID: "b1", Path: "/tmp/handbook.md"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "processed", out)
}

func TestDocumentIngestWorkflowUnsupportedFormatFailsGracefully(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(DocumentIngestWorkflow)
	registerDocumentActivities(env)

	env.OnActivity("ComputeDocumentIDActivity", mock.Anything, mock.Anything).
		Return(activities.ComputeDocumentIDOutput{DocumentID: "doc123"}, nil)
	env.OnActivity("UpdateDocumentStatusActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("ExtractTextActivity", mock.Anything, mock.Anything).
		Return(activities.ExtractTextOutput{}, errors.New("extract /tmp/report.xlsx: unsupported document format"))

	env.ExecuteWorkflow(DocumentIngestWorkflow, DocumentIngestInput{BatchID: "b1", Path: "/tmp/report.xlsx"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "failed", out)
}

func TestDocumentIngestWorkflowEmbedExhaustionFailsDocument(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(DocumentIngestWorkflow)
	registerDocumentActivities(env)

	env.OnActivity("ComputeDocumentIDActivity", mock.Anything, mock.Anything).
		Return(activities.ComputeDocumentIDOutput{DocumentID: "doc123"}, nil)
	env.OnActivity("UpdateDocumentStatusActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("ExtractTextActivity", mock.Anything, mock.Anything).
		Return(activities.ExtractTextOutput{Text: "Body text.", Metadata: map[string]string{"title": "Doc"}}, nil)
	env.OnActivity("ChunkTextActivity", mock.Anything, mock.Anything).
		Return(activities.ChunkTextOutput{Chunks: []activities.ChunkItem{{ChunkID: "c1", DocumentID: "doc123", ChunkIndex: 0, Text: "Body text."}}}, nil)
	env.OnActivity("EmbedChunksActivity", mock.Anything, mock.Anything).
		Return(activities.EmbedChunksOutput{}, errors.New("embedding failed after 3 retries (rate_limit): rate limit exceeded"))

	env.ExecuteWorkflow(DocumentIngestWorkflow, DocumentIngestInput{BatchID: "b1", Path: "/tmp/doc.txt"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "failed", out)
}

func TestIngestBatchWorkflowCountsChildOutcomes(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(IngestBatchWorkflow)
	env.RegisterWorkflow(DocumentIngestWorkflow)
	registerDocumentActivities(env)
	registerActivityName(env, "ListDocumentsActivity", func(context.Context, activities.ListDocumentsInput) (activities.ListDocumentsOutput, error) {
		return activities.ListDocumentsOutput{}, nil
	})
	registerActivityName(env, "WriteBatchSummaryActivity", func(context.Context, activities.WriteBatchSummaryInput) error { return nil })

	env.OnActivity("ListDocumentsActivity", mock.Anything, mock.Anything).
		Return(activities.ListDocumentsOutput{Paths: []string{"/tmp/a.txt", "/tmp/b.txt"}}, nil)
	env.OnActivity("ComputeDocumentIDActivity", mock.Anything, mock.Anything).
		Return(activities.ComputeDocumentIDOutput{DocumentID: "doc123"}, nil)
	env.OnActivity("UpdateDocumentStatusActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("ExtractTextActivity", mock.Anything, mock.Anything).
		Return(activities.ExtractTextOutput{Text: "Body.", Metadata: map[string]string{"title": "Doc"}}, nil)
	env.OnActivity("ChunkTextActivity", mock.Anything, mock.Anything).
		Return(activities.ChunkTextOutput{Chunks: []activities.ChunkItem{{ChunkID: "c1", DocumentID: "doc123", ChunkIndex: 0, Text: "Body."}}}, nil)
	env.OnActivity("EmbedChunksActivity", mock.Anything, mock.Anything).
		Return(activities.EmbedChunksOutput{Vectors: [][]float32{{0.1}}, Model: "mock-embed"}, nil)
	env.OnActivity("WriteChunksActivity", mock.Anything, mock.Anything).
		Return(activities.WriteChunksOutput{ChunkCount: 1}, nil)
	env.OnActivity("WriteDocumentArtifactsActivity", mock.Anything, mock.Anything).Return(nil)

	var summary activities.WriteBatchSummaryInput
	env.OnActivity("WriteBatchSummaryActivity", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			summary = args.Get(1).(activities.WriteBatchSummaryInput)
		}).Return(nil)

	env.ExecuteWorkflow(IngestBatchWorkflow, IngestBatchInput{BatchID: "b1", InputPath: "/tmp/in", MaxConcurrentChildren: 2})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "completed", out)
	require.Equal(t, "b1", summary.BatchID)
	require.Equal(t, 2, summary.Summary["total"])
	require.Equal(t, 2, summary.Summary["successful"])
	require.Equal(t, 0, summary.Summary["failed"])
}
