package http

import (
	"time"

	"github.com/secmon-lab/kotodama/pkg/domain/model"
)

type rankedResultResponse struct {
	DocumentID  string    `json:"document_id"`
	Score       float64   `json:"score"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	Snippet     string    `json:"snippet"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toRankedResultResponses(results []*model.RankedResult) []rankedResultResponse {
	resp := make([]rankedResultResponse, len(results))
	for i, r := range results {
		tags := r.Tags
		if tags == nil {
			tags = []string{}
		}
		resp[i] = rankedResultResponse{
			DocumentID:  string(r.DocumentID),
			Score:       r.Score,
			Title:       r.Title,
			Description: r.Description,
			Tags:        tags,
			Snippet:     r.Snippet,
			UpdatedAt:   r.UpdatedAt,
		}
	}
	return resp
}

type conversationResponse struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	LastMessagePreview string    `json:"last_message_preview"`
	LastSequence       int64     `json:"last_sequence"`
	SummaryStale       bool      `json:"summary_stale"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func toConversationResponse(c *model.Conversation) conversationResponse {
	return conversationResponse{
		ID:                 string(c.ID),
		Title:              c.Title,
		LastMessagePreview: c.LastMessagePreview,
		LastSequence:       int64(c.LastSequence),
		SummaryStale:       c.SummaryStale,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

type referenceResponse struct {
	DocumentID string `json:"document_id"`
	Span       string `json:"span,omitempty"`
}

func toReferenceResponses(refs []model.Reference) []referenceResponse {
	resp := make([]referenceResponse, len(refs))
	for i, ref := range refs {
		resp[i] = referenceResponse{DocumentID: string(ref.DocumentID), Span: ref.Span}
	}
	return resp
}

type messageResponse struct {
	ID         string              `json:"id"`
	Sequence   int64               `json:"sequence"`
	Sender     string              `json:"sender"`
	Text       string              `json:"text"`
	References []referenceResponse `json:"references"`
	Timestamp  time.Time           `json:"timestamp"`
}

func toMessageResponse(m *model.Message) messageResponse {
	return messageResponse{
		ID:         string(m.ID),
		Sequence:   int64(m.Sequence),
		Sender:     string(m.Sender),
		Text:       m.Text,
		References: toReferenceResponses(m.References),
		Timestamp:  m.Timestamp,
	}
}

type documentResponse struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toDocumentResponse(d *model.Document) documentResponse {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return documentResponse{
		ID:          string(d.ID),
		OwnerID:     d.OwnerID,
		Title:       d.Title,
		Description: d.Description,
		Tags:        tags,
		Text:        d.Text,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}
