package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"documind/internal/config"
	"documind/internal/embed"
	"documind/internal/providers"
	"documind/internal/retriever"
	"documind/internal/storage"
	"documind/internal/vector"
	"documind/internal/workflows"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
)

type Server struct {
	cfg       config.Config
	db        *storage.DB
	docRepo   *storage.DocumentRepo
	chunkRepo *storage.ChunkRepo
	retriever *retriever.Retriever
	providers *providers.Manager
	temporal  tclient.Client
}

func NewServer(cfg config.Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	pm, err := providers.NewManager(cfg.EmbedProviders, cfg.LLMProviders, cfg.EmbedDim)
	if err != nil {
		return nil, err
	}
	tc, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		return nil, err
	}
	embedder := embed.New(pm.EmbedProvider(), embed.Config{
		BatchSize: cfg.EmbedBatchSize,
		Dimension: cfg.EmbedDim,
	})
	return &Server{
		cfg:       cfg,
		db:        db,
		docRepo:   storage.NewDocumentRepo(db),
		chunkRepo: storage.NewChunkRepo(db),
		retriever: retriever.New(embedder, vector.NewSearcher(db.Pool), retriever.Config{
			TopK:          cfg.TopK,
			MinSimilarity: cfg.MinSimilarity,
			ContextBudget: cfg.ContextBudget,
		}),
		providers: pm,
		temporal:  tc,
	}, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/documents", s.handleDocuments)
	mux.HandleFunc("/documents/", s.handleDocumentScoped)
	mux.HandleFunc("/ingest", s.handleIngest)
	mux.HandleFunc("/ingest/", s.handleIngestScoped)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/ask", s.handleAsk)
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	docs, err := s.docRepo.ListDocuments(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleDocumentScoped(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/documents/"), "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	documentID := parts[0]

	if len(parts) == 1 {
		doc, err := s.docRepo.GetDocument(r.Context(), documentID)
		if err != nil {
			writeErr(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
		return
	}
	if len(parts) == 2 && parts[1] == "chunks" {
		chunks, err := s.chunkRepo.ListChunksByDocument(r.Context(), documentID)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
		return
	}
	writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		InputPath    string `json:"input_path"`
		StopOnError  bool   `json:"stop_on_error"`
		FailedOnly   bool   `json:"failed_only"`
		MaxChildren  int    `json:"max_concurrent_children"`
		ChunkSize    int    `json:"chunk_size"`
		ChunkOverlap int    `json:"chunk_overlap"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if !req.FailedOnly && strings.TrimSpace(req.InputPath) == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("input_path is required"))
		return
	}

	batchID := uuid.NewString()
	opts := tclient.StartWorkflowOptions{
		ID:                                       "ingest-" + batchID,
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}

	var we tclient.WorkflowRun
	var err error
	if req.FailedOnly {
		we, err = s.temporal.ExecuteWorkflow(r.Context(), opts, workflows.ReingestFailedWorkflow, workflows.ReingestFailedInput{
			BatchID:               batchID,
			MaxConcurrentChildren: req.MaxChildren,
			ChunkSize:             req.ChunkSize,
			ChunkOverlap:          req.ChunkOverlap,
		})
	} else {
		we, err = s.temporal.ExecuteWorkflow(r.Context(), opts, workflows.IngestBatchWorkflow, workflows.IngestBatchInput{
			BatchID:               batchID,
			InputPath:             req.InputPath,
			MaxConcurrentChildren: req.MaxChildren,
			StopOnError:           req.StopOnError,
			ChunkSize:             req.ChunkSize,
			ChunkOverlap:          req.ChunkOverlap,
		})
	}
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch_id":    batchID,
		"workflow_id": we.GetID(),
		"run_id":      we.GetRunID(),
	})
}

func (s *Server) handleIngestScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/ingest/"), "/"), "/")
	if len(parts) != 2 || parts[1] != "progress" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	batchID := parts[0]

	var prog workflows.BatchProgress
	resp, err := s.temporal.QueryWorkflow(r.Context(), "ingest-"+batchID, "", workflows.QueryGetProgress)
	if err != nil {
		writeErr(w, http.StatusNotFound, fmt.Errorf("no progress for batch %s: %w", batchID, err))
		return
	}
	if err := resp.Get(&prog); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
		Mode  string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}

	result, err := s.retriever.Retrieve(r.Context(), req.Query, req.TopK, req.Mode)
	if err != nil {
		writeErr(w, statusForRetrieveError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// noContextAnswer is returned verbatim when retrieval finds nothing above the
// similarity floor, instead of letting the model answer from nothing.
const noContextAnswer = "I could not find relevant information in the ingested documents to answer this question."

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		Question string `json:"question"`
		TopK     int    `json:"top_k"`
		Mode     string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}

	result, err := s.retriever.Retrieve(r.Context(), req.Question, req.TopK, req.Mode)
	if err != nil {
		writeErr(w, statusForRetrieveError(err), err)
		return
	}
	if result.NoRelevantContext {
		writeJSON(w, http.StatusOK, map[string]any{
			"question":            req.Question,
			"answer":              noContextAnswer,
			"citations":           result.Citations,
			"no_relevant_context": true,
		})
		return
	}

	prompt := "Answer the question using only the provided sources. " +
		"Cite sources inline as [Source N]. If the sources do not contain the answer, say so.\n\n" +
		"Question: " + req.Question
	resp, info, err := s.providers.LLMProvider().Generate(r.Context(), providers.GenerateRequest{
		Operation: "ask",
		Prompt:    prompt,
		Context:   []string{result.Context},
	})
	if err != nil {
		writeErr(w, http.StatusBadGateway, fmt.Errorf("llm generate: %w", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"question":            req.Question,
		"answer":              resp.Text,
		"model":               info.Model,
		"citations":           result.Citations,
		"no_relevant_context": false,
	})
}

func statusForRetrieveError(err error) int {
	e := err.Error()
	if strings.Contains(e, "must not be empty") || strings.Contains(e, "unknown retrieval mode") {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
