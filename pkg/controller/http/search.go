package http

import (
	"net/http"

	"github.com/secmon-lab/kotodama/pkg/domain/interfaces"
)

type searchRequest struct {
	Query   string `json:"query"`
	K       int    `json:"k"`
	Filters struct {
		OwnerOnly bool `json:"owner_only"`
	} `json:"filters"`
}

type searchResponse struct {
	Results []rankedResultResponse `json:"results"`
}

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req searchRequest
	if err := decodeJSON(w, r, s.maxBodySize, &req); err != nil {
		handleError(ctx, w, err)
		return
	}

	results, err := s.uc.Retriever.Retrieve(ctx, interfaces.RetrievalQuery{
		Text:      req.Query,
		K:         req.K,
		Scope:     requestScope(r),
		OwnerOnly: req.Filters.OwnerOnly,
	})
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, searchResponse{Results: toRankedResultResponses(results)})
}
