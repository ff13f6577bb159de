package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/cli/config"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
	"github.com/secmon-lab/kotodama/pkg/usecase"
	"github.com/secmon-lab/kotodama/pkg/utils/logging"
	"github.com/secmon-lab/kotodama/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

// documentRecord is one line of an index input file
type documentRecord struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Text        string   `json:"text"`
}

// readDocumentInputs decodes a stream of JSON document objects, one per line or concatenated.
func readDocumentInputs(r io.Reader) ([]usecase.DocumentInput, error) {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()

	var inputs []usecase.DocumentInput
	for {
		var rec documentRecord
		if err := decoder.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, goerr.Wrap(model.ErrInvalidArgument, "failed to decode document record",
				goerr.V("index", len(inputs)), goerr.V("error", err.Error()))
		}
		inputs = append(inputs, usecase.DocumentInput{
			ID:          model.DocumentID(rec.ID),
			Title:       rec.Title,
			Description: rec.Description,
			Tags:        rec.Tags,
			Text:        rec.Text,
		})
	}
	return inputs, nil
}

func scopeFlags(scope *model.Scope) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "tenant",
			Usage:       "Tenant ID",
			Required:    true,
			Sources:     cli.EnvVars("KOTODAMA_TENANT_ID"),
			Destination: &scope.TenantID,
		},
		&cli.StringFlag{
			Name:        "owner",
			Usage:       "Owner ID",
			Required:    true,
			Sources:     cli.EnvVars("KOTODAMA_OWNER_ID"),
			Destination: &scope.OwnerID,
		},
	}
}

func cmdIndex() *cli.Command {
	var scope model.Scope
	var appCfg config.AppConfig
	var repoCfg config.Repository
	var geminiCfg config.Gemini
	var devEcho bool

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "dev-echo",
			Usage:       "Use offline hash embedding (development only, memory backend)",
			Sources:     cli.EnvVars("KOTODAMA_DEV_ECHO"),
			Destination: &devEcho,
		},
	}
	flags = append(flags, scopeFlags(&scope)...)
	flags = append(flags, appCfg.Flags()...)
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, geminiCfg.Flags()...)

	return &cli.Command{
		Name:      "index",
		Usage:     "Index documents from JSON Lines files",
		ArgsUsage: "FILE...",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.NArg() == 0 {
				return goerr.New("at least one input file is required")
			}

			policy, err := appCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to load policy configuration")
			}

			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer safe.Close(ctx, repo)

			prov, err := newProviders(ctx, &geminiCfg, &repoCfg, policy, devEcho)
			if err != nil {
				return err
			}

			uc := usecase.New(repo, usecase.WithPolicy(policy), usecase.WithEmbedder(prov.embedder))

			for _, path := range c.Args().Slice() {
				inputs, err := readDocumentFile(path)
				if err != nil {
					return err
				}

				docs, err := uc.Document.IndexDocuments(ctx, scope, inputs)
				if err != nil {
					return goerr.Wrap(err, "failed to index documents", goerr.V("path", path))
				}
				logging.From(ctx).Info("Indexed documents", "path", path, "count", len(docs))
			}

			return nil
		},
	}
}

func readDocumentFile(path string) ([]usecase.DocumentInput, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open input file", goerr.V("path", path))
	}
	defer func() { _ = f.Close() }()

	inputs, err := readDocumentInputs(f)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read input file", goerr.V("path", path))
	}
	return inputs, nil
}
