package http

import (
	"net/http"
	"time"
)

type uploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

type uploadResponse struct {
	URL         string    `json:"url"`
	Method      string    `json:"method"`
	Object      string    `json:"object"`
	ContentType string    `json:"content_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s *Server) issueUploadHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req uploadRequest
	if err := decodeJSON(w, r, s.maxBodySize, &req); err != nil {
		handleError(ctx, w, err)
		return
	}

	ticket, err := s.uc.Upload.IssueUploadURL(ctx, requestScope(r), req.Filename, req.ContentType)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, uploadResponse{
		URL:         ticket.URL,
		Method:      ticket.Method,
		Object:      ticket.Object,
		ContentType: ticket.ContentType,
		ExpiresAt:   ticket.ExpiresAt,
	})
}
