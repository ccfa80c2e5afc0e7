package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"smsrag/internal/domain"
	"smsrag/internal/service"
	"smsrag/internal/vectorstore"
)

const maxUploadBytes = 10 << 20

// webhookRequest accepts both the flat {text, from} shape and the Telnyx
// inbound message envelope.
type webhookRequest struct {
	Text string `json:"text"`
	From string `json:"from"`
	Data *struct {
		EventType string `json:"event_type"`
		Payload   struct {
			Text string `json:"text"`
			From struct {
				PhoneNumber string `json:"phone_number"`
			} `json:"from"`
		} `json:"payload"`
	} `json:"data"`
}

func (r webhookRequest) message() (text, from string) {
	text, from = r.Text, r.From
	if r.Data != nil {
		if text == "" {
			text = r.Data.Payload.Text
		}
		if from == "" {
			from = r.Data.Payload.From.PhoneNumber
		}
	}
	return text, from
}

// webhookHandler answers an inbound SMS. Nothing is sent when the pipeline
// fails.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	if req.Data != nil && req.Data.EventType != "" && req.Data.EventType != "message.received" {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	text, from := req.message()
	if strings.TrimSpace(text) == "" || from == "" {
		WriteError(w, http.StatusBadRequest, "Both 'text' and 'from' are required.")
		return
	}

	ctx, cancel := s.downstreamContext(r)
	defer cancel()

	reply, err := s.deps.Queries.Process(ctx, text)
	if err != nil {
		s.logger.Error().Err(err).Str("from", from).Msg("Failed to process message")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.deps.Messenger.Send(ctx, from, reply); err != nil {
		s.logger.Error().Err(err).Str("from", from).Msg("Failed to send reply")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// downstreamContext detaches the reply work from the inbound request, so a
// caller that hangs up does not cancel generation or the outbound send. The
// configured request timeout is the only deadline.
func (s *Server) downstreamContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(r.Context())
	if s.requestTimeout > 0 {
		return context.WithTimeout(ctx, s.requestTimeout)
	}
	return ctx, func() {}
}

type addDocumentRequest struct {
	ID       string         `json:"id" validate:"required"`
	Content  string         `json:"content" validate:"required"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) addDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req addDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		WriteError(w, http.StatusBadRequest, "Both 'id' and 'content' are required.")
		return
	}
	if err := s.deps.Documents.Add(r.Context(), req.ID, req.Content, req.Metadata); err != nil {
		s.writeStoreError(w, err)
		return
	}
	WriteMessage(w, fmt.Sprintf("Document '%s' added successfully.", req.ID))
}

type searchResponse struct {
	CombinedResponse string           `json:"combined_response"`
	Documents        []string         `json:"documents"`
	Distances        []float64        `json:"distances"`
	Metadata         []map[string]any `json:"metadata"`
	IDs              []string         `json:"ids"`
	Summary          *string          `json:"summary"`
}

func newSearchResponse(out domain.QueryOutcome) searchResponse {
	resp := searchResponse{
		CombinedResponse: out.CombinedEvidence,
		Documents:        make([]string, 0, len(out.Hits)),
		Distances:        make([]float64, 0, len(out.Hits)),
		Metadata:         make([]map[string]any, 0, len(out.Hits)),
		IDs:              make([]string, 0, len(out.Hits)),
		Summary:          out.Summary,
	}
	for _, h := range out.Hits {
		resp.Documents = append(resp.Documents, h.Content)
		resp.Distances = append(resp.Distances, h.Distance)
		resp.Metadata = append(resp.Metadata, h.Metadata)
		resp.IDs = append(resp.IDs, h.ID)
	}
	return resp
}

func (s *Server) searchDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	req := service.SearchRequest{Query: q.Get("query"), TopK: 3}
	if req.Query == "" {
		WriteError(w, http.StatusBadRequest, "Query parameter is required.")
		return
	}
	if v := q.Get("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteError(w, http.StatusBadRequest, "top_k must be a positive integer.")
			return
		}
		req.TopK = n
	}
	if v := q.Get("distance_threshold"); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil || d < 0 {
			WriteError(w, http.StatusBadRequest, "distance_threshold must be a non-negative number.")
			return
		}
		req.DistanceThreshold = vectorstore.Threshold(d)
	}
	req.Summarize = strings.EqualFold(q.Get("summarize"), "true")

	out, err := s.deps.Queries.Search(r.Context(), req)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, newSearchResponse(out))
}

func (s *Server) deleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Document ID parameter is required.")
		return
	}
	if err := s.deps.Documents.Delete(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	WriteMessage(w, fmt.Sprintf("Document '%s' deleted successfully.", id))
}

func (s *Server) uploadMarkdownHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "No file part in the request.")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		WriteError(w, http.StatusBadRequest, "No selected file.")
		return
	}
	content, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Failed to read uploaded file.")
		return
	}

	res, err := s.deps.Ingester.Ingest(r.Context(), header.Filename, string(content))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"message":         fmt.Sprintf("Markdown file '%s' uploaded and processed successfully.", header.Filename),
		"chunks_uploaded": len(res.IDs),
		"ids":             res.IDs,
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	n, err := s.deps.Documents.Count(r.Context())
	if err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "documents": n})
}

// writeStoreError maps store rejections to client errors and everything
// else to 500.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, vectorstore.ErrInvalidDocument), errors.Is(err, service.ErrEmptyFilename):
		status = http.StatusBadRequest
	case errors.Is(err, vectorstore.ErrDuplicateID):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Request failed")
	}
	WriteError(w, status, err.Error())
}
