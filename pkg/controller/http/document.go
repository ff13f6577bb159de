package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
	"github.com/secmon-lab/kotodama/pkg/usecase"
)

type putDocumentRequest struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Text        string   `json:"text"`
}

func documentIDParam(r *http.Request) model.DocumentID {
	return model.DocumentID(chi.URLParam(r, "documentID"))
}

func (s *Server) putDocumentHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req putDocumentRequest
	if err := decodeJSON(w, r, s.maxBodySize, &req); err != nil {
		handleError(ctx, w, err)
		return
	}

	doc, err := s.uc.Document.IndexDocument(ctx, requestScope(r), usecase.DocumentInput{
		ID:          model.DocumentID(req.ID),
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
		Text:        req.Text,
	})
	if err != nil {
		handleError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, toDocumentResponse(doc))
}

func (s *Server) getDocumentHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	doc, err := s.uc.Document.GetDocument(ctx, requestScope(r), documentIDParam(r))
	if err != nil {
		handleError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, toDocumentResponse(doc))
}

func (s *Server) deleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.uc.Document.DeleteDocument(ctx, requestScope(r), documentIDParam(r)); err != nil {
		handleError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
