package cli

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/cli/config"
	"github.com/secmon-lab/kotodama/pkg/domain/interfaces"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
	"github.com/secmon-lab/kotodama/pkg/usecase"
	"github.com/secmon-lab/kotodama/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

type searchOutput struct {
	DocumentID string   `json:"document_id"`
	Score      float64  `json:"score"`
	Title      string   `json:"title"`
	Tags       []string `json:"tags"`
	Snippet    string   `json:"snippet"`
}

func cmdSearch() *cli.Command {
	var scope model.Scope
	var k int
	var ownerOnly bool
	var devEcho bool
	var appCfg config.AppConfig
	var repoCfg config.Repository
	var geminiCfg config.Gemini

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "k",
			Usage:       "Number of results (0 uses the configured default)",
			Destination: &k,
		},
		&cli.BoolFlag{
			Name:        "owner-only",
			Usage:       "Only search documents of the owner",
			Destination: &ownerOnly,
		},
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
		Name:      "search",
		Usage:     "Retrieve ranked documents for a query",
		ArgsUsage: "QUERY...",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			query := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(query) == "" {
				return goerr.New("query is required")
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
			results, err := uc.Retriever.Retrieve(ctx, interfaces.RetrievalQuery{
				Text:      query,
				K:         k,
				Scope:     scope,
				OwnerOnly: ownerOnly,
			})
			if err != nil {
				return goerr.Wrap(err, "failed to retrieve documents")
			}

			out := make([]searchOutput, 0, len(results))
			for _, r := range results {
				out = append(out, searchOutput{
					DocumentID: string(r.DocumentID),
					Score:      r.Score,
					Title:      r.Title,
					Tags:       r.Tags,
					Snippet:    r.Snippet,
				})
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(out); err != nil {
				return goerr.Wrap(err, "failed to write results")
			}
			return nil
		},
	}
}
