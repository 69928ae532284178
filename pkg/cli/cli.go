package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"

	"github.com/m-mizutani/elicit/pkg/interfaces"
	"github.com/m-mizutani/elicit/pkg/usecase/memory"
	"github.com/m-mizutani/elicit/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "elicit",
		Usage: "Requirement clarification agent with project memory",
		Commands: []*cli.Command{
			clarifyCommand(),
			chatCommand(),
			memoryCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.Default().Error("command failed", "error", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

// stores bundles the relational and vector halves of project memory for one command
type stores struct {
	db          *sql.DB
	index       interfaces.VectorIndex
	coordinator *memory.Coordinator
}

func (cfg *config) openStores(ctx context.Context) (*stores, error) {
	db, err := cfg.newDB(ctx)
	if err != nil {
		return nil, err
	}

	index, err := cfg.newVectorIndex(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &stores{
		db:          db,
		index:       index,
		coordinator: memory.New(index),
	}, nil
}

func (x *stores) Close(ctx context.Context) {
	logger := logging.From(ctx)
	if err := x.index.Close(); err != nil {
		logger.Warn("failed to close vector index", "error", err)
	}
	if err := x.db.Close(); err != nil {
		logger.Warn("failed to close memory index", "error", err)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return goerr.Wrap(err, "failed to write output")
	}
	return nil
}
