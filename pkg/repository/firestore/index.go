package firestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/fireconf"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/utils/logging"
	"github.com/secmon-lab/kotodama/pkg/utils/safe"
)

// indexAdmin manages Firestore indexes declaratively through fireconf
type indexAdmin struct {
	document         *documentRepository
	projectID        string
	databaseID       string
	collectionPrefix string
	dimension        int
}

func newIndexAdmin(document *documentRepository, projectID, databaseID string, dimension int) *indexAdmin {
	return &indexAdmin{
		document:   document,
		projectID:  projectID,
		databaseID: databaseID,
		dimension:  dimension,
	}
}

func (a *indexAdmin) collectionName(name string) string {
	if a.collectionPrefix != "" {
		return a.collectionPrefix + "_" + name
	}
	return name
}

// IndexConfig returns the full index configuration: the vector indexes over documents and the
// composite index used to list conversations of an owner.
func (a *indexAdmin) IndexConfig() *fireconf.Config {
	return &fireconf.Config{
		Collections: []fireconf.Collection{
			{
				Name: a.collectionName(documentsCollectionName),
				Indexes: []fireconf.Index{
					// Query filtered by tenant
					{
						Fields: []fireconf.IndexField{
							{Path: "TenantID", Order: fireconf.OrderAscending},
							{
								Path:   "Embedding",
								Vector: &fireconf.VectorConfig{Dimension: a.dimension},
							},
						},
					},
					// Query filtered by tenant and owner
					{
						Fields: []fireconf.IndexField{
							{Path: "TenantID", Order: fireconf.OrderAscending},
							{Path: "OwnerID", Order: fireconf.OrderAscending},
							{
								Path:   "Embedding",
								Vector: &fireconf.VectorConfig{Dimension: a.dimension},
							},
						},
					},
				},
			},
			a.conversationIndexes(),
		},
	}
}

// conversationIndexes is kept when the vector index is dropped
func (a *indexAdmin) conversationIndexes() fireconf.Collection {
	return fireconf.Collection{
		Name: a.collectionName(conversationsCollectionName),
		Indexes: []fireconf.Index{
			// List: OwnerID ASC, UpdatedAt DESC
			{
				Fields: []fireconf.IndexField{
					{Path: "OwnerID", Order: fireconf.OrderAscending},
					{Path: "UpdatedAt", Order: fireconf.OrderDescending},
				},
			},
		},
	}
}

func (a *indexAdmin) newClient(ctx context.Context, cfg *fireconf.Config) (*fireconf.Client, error) {
	client, err := fireconf.New(ctx, a.projectID, a.databaseID, cfg, fireconf.WithLogger(logging.From(ctx)))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create fireconf client",
			goerr.V("projectID", a.projectID),
			goerr.V("databaseID", a.databaseID))
	}
	return client, nil
}

func (a *indexAdmin) migrate(ctx context.Context, cfg *fireconf.Config) error {
	client, err := a.newClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer safe.Close(ctx, client)

	if err := client.Migrate(ctx); err != nil {
		return goerr.Wrap(err, "failed to apply index migration")
	}
	return nil
}

// CreateIndex applies IndexConfig. fireconf skips indexes that already exist.
func (a *indexAdmin) CreateIndex(ctx context.Context) error {
	return a.migrate(ctx, a.IndexConfig())
}

// DeleteIndex removes every indexed document and migrates to a configuration without the
// vector indexes.
func (a *indexAdmin) DeleteIndex(ctx context.Context) error {
	deleted, err := a.document.deleteAll(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to clear documents")
	}
	logging.From(ctx).Info("cleared documents", "count", deleted)

	cfg := &fireconf.Config{
		Collections: []fireconf.Collection{
			{Name: a.collectionName(documentsCollectionName)},
			a.conversationIndexes(),
		},
	}
	return a.migrate(ctx, cfg)
}

// Plan compares the indexes currently in Firestore with IndexConfig
func (a *indexAdmin) Plan(ctx context.Context) ([]string, error) {
	desired := a.IndexConfig()
	client, err := a.newClient(ctx, desired)
	if err != nil {
		return nil, err
	}
	defer safe.Close(ctx, client)

	names := make([]string, 0, len(desired.Collections))
	for _, c := range desired.Collections {
		names = append(names, c.Name)
	}
	current, err := client.Import(ctx, names...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to import current indexes")
	}

	diff, err := client.DiffConfigs(current)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to diff index configuration")
	}

	steps := make([]string, 0)
	for _, col := range diff.Collections {
		for _, idx := range col.IndexesToAdd {
			steps = append(steps, fmt.Sprintf("create index on %s: %s", col.Name, describeIndex(idx)))
		}
		for _, idx := range col.IndexesToDelete {
			steps = append(steps, fmt.Sprintf("delete index on %s: %s (destructive)", col.Name, describeIndex(idx)))
		}
	}
	return steps, nil
}

func describeIndex(idx fireconf.Index) string {
	fields := make([]string, 0, len(idx.Fields))
	for _, f := range idx.Fields {
		switch {
		case f.Vector != nil:
			fields = append(fields, fmt.Sprintf("%s VECTOR(%d)", f.Path, f.Vector.Dimension))
		case f.Array != "":
			fields = append(fields, fmt.Sprintf("%s %s", f.Path, f.Array))
		default:
			fields = append(fields, fmt.Sprintf("%s %s", f.Path, f.Order))
		}
	}
	return strings.Join(fields, ", ")
}
