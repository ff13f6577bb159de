package repository_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/kotodama/pkg/domain/interfaces"
	"github.com/secmon-lab/kotodama/pkg/repository/firestore"
	"github.com/secmon-lab/kotodama/pkg/repository/memory"
)

// testDimension keeps test vectors readable
const testDimension = 4

func newMemoryRepository(t *testing.T) interfaces.Repository {
	t.Helper()
	return memory.New(memory.WithEmbeddingDimension(testDimension))
}

func newFirestoreRepository(t *testing.T) interfaces.Repository {
	t.Helper()

	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	if projectID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID not set")
	}

	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")
	if databaseID == "" {
		t.Skip("TEST_FIRESTORE_DATABASE_ID not set")
	}

	ctx := context.Background()
	repo, err := firestore.New(ctx, projectID, databaseID,
		firestore.WithCollectionPrefix("test"),
		firestore.WithEmbeddingDimension(testDimension),
	)
	gt.NoError(t, err).Required()
	t.Cleanup(func() {
		gt.NoError(t, repo.Close())
	})
	return repo
}

// uniqueID returns an identifier that does not collide across test runs on a shared database
func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
