package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/paperquery/paperquery/internal/model"
	"github.com/paperquery/paperquery/internal/repository"
)

const (
	defaultTopK = 5
	maxTopK     = 20
)

type documentListResponse struct {
	Documents []model.Document `json:"documents"`
	Total     int              `json:"total"`
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"topK"`
}

type searchResponse struct {
	Query      string               `json:"query"`
	DocumentID string               `json:"documentId"`
	Results    []model.SearchResult `json:"results"`
	Total      int                  `json:"total"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Query   string               `json:"query"`
	Answer  string               `json:"answer"`
	Sources []model.SearchResult `json:"sources"`
}

type messageListResponse struct {
	Messages []model.Message `json:"messages"`
	Total    int             `json:"total"`
}

// handleUpload streams a multipart PDF to a temp file, stores it, records the
// pending document and schedules ingestion. The response is 202: processing
// happens on the worker and clients poll the document for its status.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer part.Close()
	tmp, err := s.persistTemp(part)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer os.Remove(tmp.path)
	defer tmp.f.Close()
	if tmp.contentType != "application/pdf" {
		respondError(w, http.StatusBadRequest, "only PDF files supported")
		return
	}

	docID := uuid.NewString()
	objectKey := fmt.Sprintf("uploads/%s/%s", docID, filepath.Base(tmp.filename))
	if _, err := tmp.f.Seek(0, 0); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	if err := s.deps.Objects.Upload(ctx, objectKey, tmp.f, tmp.size, tmp.contentType); err != nil {
		slog.Error("upload to storage", "document_id", docID, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	doc := &model.Document{
		ID:        docID,
		UserID:    userID(ctx),
		FileName:  tmp.filename,
		ObjectKey: objectKey,
		FileSize:  tmp.size,
	}
	if err := s.deps.Documents.Create(ctx, doc); err != nil {
		slog.Error("create document", "document_id", docID, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to store metadata")
		return
	}
	if err := s.deps.Jobs.EnqueueIngest(ctx, docID); err != nil {
		slog.Error("enqueue ingest", "document_id", docID, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to queue job")
		return
	}

	slog.Info("document uploaded", "document_id", docID, "file_name", doc.FileName, "bytes", doc.FileSize)
	respondJSON(w, http.StatusAccepted, struct {
		*model.Document
		Message string `json:"message"`
	}{doc, "File uploaded successfully. Processing will begin shortly."})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.deps.Documents.ListByUser(r.Context(), userID(r.Context()))
	if err != nil {
		slog.Error("list documents", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	if docs == nil {
		docs = []model.Document{}
	}
	respondJSON(w, http.StatusOK, documentListResponse{Documents: docs, Total: len(docs)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// handleDeleteDocument removes the stored object first: object removal is
// idempotent, so a failure after it still leaves a retryable delete.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	if err := s.deps.Objects.Remove(r.Context(), doc.ObjectKey); err != nil {
		slog.Error("remove object", "document_id", doc.ID, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to delete document")
		return
	}
	if err := s.deps.Documents.Delete(r.Context(), doc.ID, userID(r.Context())); err != nil && !errors.Is(err, repository.ErrNotFound) {
		slog.Error("delete document", "document_id", doc.ID, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to delete document")
		return
	}
	slog.Info("document deleted", "document_id", doc.ID)
	respondJSON(w, http.StatusOK, map[string]string{"message": "document deleted"})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	url, err := s.deps.Objects.PresignGet(r.Context(), doc.ObjectKey, s.cfg.SignedURLTTL)
	if err != nil {
		slog.Error("presign download", "document_id", doc.ID, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to generate url")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

// handleProcess schedules another ingestion run, the retry path for failed
// documents. The task id makes a second submission for an in-flight document
// a no-op, so over-eager clients cannot start parallel runs.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	if doc.Status == model.StatusCompleted {
		respondError(w, http.StatusConflict, "document already processed")
		return
	}
	if err := s.deps.Jobs.EnqueueIngest(r.Context(), doc.ID); err != nil {
		slog.Error("enqueue ingest", "document_id", doc.ID, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to queue job")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":      doc.ID,
		"message": "processing scheduled",
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusUnprocessableEntity, "query must not be empty")
		return
	}
	topK, err := normalizeTopK(req.TopK)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if doc.Status != model.StatusCompleted {
		respondError(w, http.StatusConflict, "document not processed yet")
		return
	}

	results, err := s.deps.RAG.Search(r.Context(), doc.ID, req.Query, topK)
	if err != nil {
		slog.Error("search document", "document_id", doc.ID, "err", err)
		respondError(w, http.StatusBadGateway, "search is temporarily unavailable")
		return
	}
	if results == nil {
		results = []model.SearchResult{}
	}
	respondJSON(w, http.StatusOK, searchResponse{
		Query:      req.Query,
		DocumentID: doc.ID,
		Results:    results,
		Total:      len(results),
	})
}

// handleQuery answers a question about a processed document and appends the
// exchange to its history. The pair is persisted only after generation
// succeeded, so an upstream failure leaves no trace in the conversation.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusUnprocessableEntity, "query must not be empty")
		return
	}
	if doc.Status != model.StatusCompleted {
		respondError(w, http.StatusConflict, "document not processed yet")
		return
	}

	answer, err := s.deps.RAG.Query(r.Context(), doc.ID, req.Query, defaultTopK)
	if err != nil {
		slog.Error("answer query", "document_id", doc.ID, "err", err)
		respondError(w, http.StatusBadGateway, "answer generation is temporarily unavailable")
		return
	}

	uid := userID(r.Context())
	question := &model.Message{
		ID:         ulid.Make().String(),
		DocumentID: doc.ID,
		UserID:     uid,
		Role:       model.RoleUser,
		Content:    req.Query,
	}
	reply := &model.Message{
		ID:         ulid.Make().String(),
		DocumentID: doc.ID,
		UserID:     uid,
		Role:       model.RoleAssistant,
		Content:    answer.Text,
		Sources:    answer.Sources,
	}
	if err := s.deps.Messages.AppendPair(r.Context(), question, reply); err != nil {
		slog.Error("persist messages", "document_id", doc.ID, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to record conversation")
		return
	}

	respondJSON(w, http.StatusOK, queryResponse{
		Query:   req.Query,
		Answer:  answer.Text,
		Sources: answer.Sources,
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	messages, err := s.deps.Messages.ListByDocument(r.Context(), doc.ID, userID(r.Context()))
	if err != nil {
		slog.Error("list messages", "document_id", doc.ID, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	respondJSON(w, http.StatusOK, messageListResponse{Messages: messages, Total: len(messages)})
}

// ownedDocument loads the document named in the URL when the caller owns it.
// A row owned by someone else answers the same 404 as a missing one.
func (s *Server) ownedDocument(w http.ResponseWriter, r *http.Request) (*model.Document, bool) {
	doc, err := s.deps.Documents.GetOwned(r.Context(), chi.URLParam(r, "documentID"), userID(r.Context()))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "document not found")
			return nil, false
		}
		slog.Error("load document", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to load document")
		return nil, false
	}
	return doc, true
}

func normalizeTopK(k int) (int, error) {
	if k == 0 {
		return defaultTopK, nil
	}
	if k < 1 || k > maxTopK {
		return 0, fmt.Errorf("topK must be between 1 and %d", maxTopK)
	}
	return k, nil
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

// persistTemp drains one multipart part to a temp file, enforcing the size
// cap and sniffing the content type from the first 512 bytes. The client
// supplied Content-Type header is never trusted.
func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "paperquery-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxFileSize {
				tmpFile.Close()
				os.Remove(tmpFile.Name())
				return nil, fmt.Errorf("file exceeds limit (%d bytes)", s.cfg.MaxFileSize)
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				tmpFile.Close()
				os.Remove(tmpFile.Name())
				return nil, fmt.Errorf("write temp file: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			tmpFile.Close()
			os.Remove(tmpFile.Name())
			return nil, fmt.Errorf("read file: %w", readErr)
		}
	}
	if written == 0 {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, errors.New("empty file")
	}
	contentType := http.DetectContentType(sniff)
	if _, err := tmpFile.Seek(0, 0); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, fmt.Errorf("rewind temp file: %w", err)
	}
	filename := part.FileName()
	if filename == "" {
		filename = "upload.pdf"
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: contentType,
		filename:    filename,
	}, nil
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}
