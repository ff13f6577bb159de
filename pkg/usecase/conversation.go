package usecase

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/domain/interfaces"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
)

const (
	maxTitleLength      = 200
	defaultMessageLimit = 100
	maxMessageLimit     = 500
)

type ConversationUseCase struct {
	repo interfaces.ConversationRepository
}

func NewConversationUseCase(repo interfaces.ConversationRepository) *ConversationUseCase {
	return &ConversationUseCase{repo: repo}
}

func normalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", goerr.Wrap(model.ErrInvalidArgument, "title is too long", goerr.V("max", maxTitleLength))
	}
	return title, nil
}

func (uc *ConversationUseCase) Create(ctx context.Context, scope model.Scope, title string) (*model.Conversation, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	title, err := normalizeTitle(title)
	if err != nil {
		return nil, err
	}

	conv, err := uc.repo.Create(ctx, &model.Conversation{
		OwnerID:  scope.OwnerID,
		TenantID: scope.TenantID,
		Title:    title,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create conversation")
	}
	return conv, nil
}

// Get returns the conversation when it belongs to both the owner and the tenant of scope
func (uc *ConversationUseCase) Get(ctx context.Context, scope model.Scope, id model.ConversationID) (*model.Conversation, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return getOwnedConversation(ctx, uc.repo, scope, id)
}

func getOwnedConversation(ctx context.Context, repo interfaces.ConversationRepository, scope model.Scope, id model.ConversationID) (*model.Conversation, error) {
	if id == "" {
		return nil, goerr.Wrap(model.ErrInvalidArgument, "conversation ID is required")
	}

	conv, err := repo.Get(ctx, scope.OwnerID, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get conversation", goerr.V(model.ConversationIDKey, id))
	}
	if !conv.OwnedBy(scope) {
		return nil, goerr.Wrap(model.ErrNotFound, "conversation not found",
			goerr.V(model.ConversationIDKey, id),
			goerr.V(model.TenantIDKey, scope.TenantID))
	}
	return conv, nil
}

// List returns the owner's conversations in the scope's tenant, most recently updated first
func (uc *ConversationUseCase) List(ctx context.Context, scope model.Scope) ([]*model.Conversation, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	all, err := uc.repo.List(ctx, scope.OwnerID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list conversations")
	}

	result := make([]*model.Conversation, 0, len(all))
	for _, conv := range all {
		if conv.OwnedBy(scope) {
			result = append(result, conv)
		}
	}
	return result, nil
}

func (uc *ConversationUseCase) Rename(ctx context.Context, scope model.Scope, id model.ConversationID, title string) (*model.Conversation, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	title, err := normalizeTitle(title)
	if err != nil {
		return nil, err
	}
	if _, err := getOwnedConversation(ctx, uc.repo, scope, id); err != nil {
		return nil, err
	}

	conv, err := uc.repo.Rename(ctx, scope.OwnerID, id, title)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to rename conversation", goerr.V(model.ConversationIDKey, id))
	}
	return conv, nil
}

// Delete removes the conversation with all of its messages
func (uc *ConversationUseCase) Delete(ctx context.Context, scope model.Scope, id model.ConversationID) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if _, err := getOwnedConversation(ctx, uc.repo, scope, id); err != nil {
		return err
	}

	if err := uc.repo.Delete(ctx, scope.OwnerID, id); err != nil {
		return goerr.Wrap(err, "failed to delete conversation", goerr.V(model.ConversationIDKey, id))
	}
	return nil
}

// ListMessages returns messages after the given sequence key in ascending order
func (uc *ConversationUseCase) ListMessages(ctx context.Context, scope model.Scope, id model.ConversationID, after model.SequenceKey, limit int) ([]*model.Message, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if after < 0 {
		return nil, goerr.Wrap(model.ErrInvalidArgument, "after must not be negative")
	}
	switch {
	case limit == 0:
		limit = defaultMessageLimit
	case limit < 0 || limit > maxMessageLimit:
		return nil, goerr.Wrap(model.ErrInvalidArgument, "limit is out of range",
			goerr.V("limit", limit),
			goerr.V("max", maxMessageLimit))
	}

	if _, err := getOwnedConversation(ctx, uc.repo, scope, id); err != nil {
		return nil, err
	}

	msgs, err := uc.repo.ListMessages(ctx, scope.OwnerID, id, after, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list messages", goerr.V(model.ConversationIDKey, id))
	}
	return msgs, nil
}
