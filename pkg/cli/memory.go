package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/elicit/pkg/usecase/memory"
	"github.com/m-mizutani/elicit/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func memoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Manage project memories",
		Commands: []*cli.Command{
			memoryAddCommand(),
			memoryGetCommand(),
			memorySearchCommand(),
			memoryDeleteCommand(),
			memoryStatsCommand(),
			memoryExportCommand(),
			memoryImportCommand(),
		},
	}
}

func memoryFlags(cfg *config, flags ...cli.Flag) []cli.Flag {
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, storeFlags(cfg)...)
	flags = append(flags, llmFlags(cfg)...)
	return flags
}

func projectIDFlag(dst *int64) cli.Flag {
	return &cli.IntFlag{
		Name:        "project-id",
		Usage:       "Project ID",
		Sources:     cli.EnvVars("ELICIT_PROJECT_ID"),
		Destination: dst,
		Required:    true,
	}
}

// withStores sets up logging, opens both stores and runs fn
func withStores(ctx context.Context, cfg *config, fn func(ctx context.Context, s *stores) error) error {
	ctx, err := cfg.setupLogger(ctx)
	if err != nil {
		return err
	}

	s, err := cfg.openStores(ctx)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	return fn(ctx, s)
}

func memoryAddCommand() *cli.Command {
	var (
		cfg       config
		projectID int64
		kind      string
		sourceID  int64
		meta      []string
	)

	flags := memoryFlags(&cfg,
		projectIDFlag(&projectID),
		&cli.StringFlag{
			Name:        "kind",
			Aliases:     []string{"k"},
			Usage:       "Source kind (crs, message, comment, summary)",
			Value:       string(model.SourceKindMessage),
			Destination: &kind,
		},
		&cli.IntFlag{
			Name:        "source-id",
			Usage:       "ID of the entity the memory was derived from",
			Destination: &sourceID,
			Required:    true,
		},
		&cli.StringSliceFlag{
			Name:        "meta",
			Usage:       "Metadata entry as key=value, repeatable; JSON scalars are decoded",
			Destination: &meta,
		},
	)

	return &cli.Command{
		Name:      "add",
		Usage:     "Create a memory",
		ArgsUsage: "<text>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			text := strings.Join(c.Args().Slice(), " ")
			metadata, err := parseMetadata(meta)
			if err != nil {
				return err
			}

			return withStores(ctx, &cfg, func(ctx context.Context, s *stores) error {
				rec, err := s.coordinator.Create(ctx, s.db, memory.CreateInput{
					ProjectID:  projectID,
					Text:       text,
					SourceKind: model.SourceKind(kind),
					SourceID:   sourceID,
					Metadata:   metadata,
				})
				if err != nil {
					return err
				}
				return printJSON(c.Root().Writer, rec)
			})
		},
	}
}

// parseMetadata turns key=value pairs into a metadata map. Values that parse as JSON scalars keep
// their type; anything else is a string.
func parseMetadata(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	md := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, goerr.New("metadata must be key=value", goerr.V("meta", pair))
		}

		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		switch v.(type) {
		case map[string]any, []any:
			v = value
		}
		md[key] = v
	}
	return md, nil
}

type memoryView struct {
	*model.MemoryRecord
	Text     string         `json:"text,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func memoryGetCommand() *cli.Command {
	var (
		cfg      config
		memoryID int64
	)

	flags := memoryFlags(&cfg,
		&cli.IntFlag{
			Name:        "memory-id",
			Usage:       "Look up by relational ID instead of vector ID",
			Destination: &memoryID,
		},
	)

	return &cli.Command{
		Name:      "get",
		Usage:     "Show a memory",
		ArgsUsage: "[vector-id]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			vectorID := model.VectorID(c.Args().First())
			if vectorID == "" && memoryID == 0 {
				return goerr.New("vector-id or --memory-id is required")
			}

			return withStores(ctx, &cfg, func(ctx context.Context, s *stores) error {
				var (
					rec *model.MemoryRecord
					err error
				)
				if memoryID != 0 {
					rec, err = s.coordinator.Get(ctx, s.db, model.MemoryID(memoryID))
				} else {
					rec, err = s.coordinator.Retrieve(ctx, s.db, vectorID)
				}
				if err != nil {
					return err
				}
				if rec == nil {
					return goerr.Wrap(model.ErrNotFound, "memory not found",
						goerr.V("vector_id", vectorID), goerr.V("memory_id", memoryID))
				}

				view := &memoryView{MemoryRecord: rec}
				item, err := s.index.Get(ctx, rec.VectorID)
				if err != nil {
					return goerr.Wrap(err, "failed to get vector entry", goerr.V("vector_id", rec.VectorID))
				}
				if item != nil {
					view.Text = item.Text
					view.Metadata = item.Metadata
				} else {
					logging.From(ctx).Warn("vector entry is missing", "vector_id", rec.VectorID)
				}

				return printJSON(c.Root().Writer, view)
			})
		},
	}
}

func memorySearchCommand() *cli.Command {
	var (
		cfg       config
		projectID int64
		limit     int64
		threshold float64
		kind      string
	)

	flags := memoryFlags(&cfg,
		projectIDFlag(&projectID),
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Number of candidates fetched from the vector index",
			Value:       memory.DefaultLimit,
			Destination: &limit,
		},
		&cli.FloatFlag{
			Name:        "threshold",
			Usage:       "Minimum similarity (0 to 1)",
			Value:       memory.DefaultThreshold,
			Destination: &threshold,
		},
		&cli.StringFlag{
			Name:        "kind",
			Aliases:     []string{"k"},
			Usage:       "Restrict to one source kind",
			Destination: &kind,
		},
	)

	return &cli.Command{
		Name:      "search",
		Usage:     "Search project memories by similarity",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			input := memory.DefaultSearchInput(projectID, strings.Join(c.Args().Slice(), " "))
			input.Limit = int(limit)
			input.Threshold = threshold
			input.SourceKind = model.SourceKind(kind)

			return withStores(ctx, &cfg, func(ctx context.Context, s *stores) error {
				results, err := s.coordinator.Search(ctx, s.db, input)
				if err != nil {
					return err
				}

				w := c.Root().Writer
				if len(results) == 0 {
					fmt.Fprintf(w, "No memories found\n")
					return nil
				}
				for i, r := range results {
					fmt.Fprintf(w, "%d. [%.3f] %s/%d %s\n", i+1, r.Similarity, r.SourceKind, r.SourceID, r.VectorID)
					fmt.Fprintf(w, "   %s\n", r.Text)
				}
				return nil
			})
		},
	}
}

func memoryDeleteCommand() *cli.Command {
	var (
		cfg      config
		memoryID int64
		kind     string
		sourceID int64
	)

	flags := memoryFlags(&cfg,
		&cli.IntFlag{
			Name:        "memory-id",
			Usage:       "Delete by relational ID",
			Destination: &memoryID,
		},
		&cli.StringFlag{
			Name:        "kind",
			Aliases:     []string{"k"},
			Usage:       "Delete every memory of this source kind and --source-id",
			Destination: &kind,
		},
		&cli.IntFlag{
			Name:        "source-id",
			Usage:       "Source ID used with --kind",
			Destination: &sourceID,
		},
	)

	return &cli.Command{
		Name:      "rm",
		Usage:     "Delete memories from both stores",
		ArgsUsage: "[vector-id]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			vectorID := model.VectorID(c.Args().First())

			return withStores(ctx, &cfg, func(ctx context.Context, s *stores) error {
				w := c.Root().Writer

				switch {
				case kind != "":
					n, err := s.coordinator.DeleteBySource(ctx, s.db, model.SourceKind(kind), sourceID)
					fmt.Fprintf(w, "Deleted %d memories\n", n)
					return err

				case memoryID != 0:
					found, err := s.coordinator.DeleteByMemoryID(ctx, s.db, model.MemoryID(memoryID))
					if err != nil {
						return err
					}
					if !found {
						return goerr.Wrap(model.ErrNotFound, "memory not found", goerr.V("memory_id", memoryID))
					}

				case vectorID != "":
					found, err := s.coordinator.DeleteByVectorID(ctx, s.db, vectorID)
					if err != nil {
						return err
					}
					if !found {
						return goerr.Wrap(model.ErrNotFound, "memory not found", goerr.V("vector_id", vectorID))
					}

				default:
					return goerr.New("vector-id, --memory-id or --kind is required")
				}

				fmt.Fprintf(w, "Memory deleted\n")
				return nil
			})
		},
	}
}

func memoryStatsCommand() *cli.Command {
	var (
		cfg       config
		projectID int64
	)

	return &cli.Command{
		Name:  "stats",
		Usage: "Summarize the memories of a project",
		Flags: memoryFlags(&cfg, projectIDFlag(&projectID)),
		Action: func(ctx context.Context, c *cli.Command) error {
			return withStores(ctx, &cfg, func(ctx context.Context, s *stores) error {
				stats, err := s.coordinator.Stats(ctx, s.db, projectID)
				if err != nil {
					return err
				}
				return printJSON(c.Root().Writer, stats)
			})
		},
	}
}

func memoryExportCommand() *cli.Command {
	var (
		cfg       config
		projectID int64
		output    string
		bucket    string
		key       string
	)

	flags := memoryFlags(&cfg,
		projectIDFlag(&projectID),
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Output file (stdout when empty)",
			Destination: &output,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket to upload the export to",
			Sources:     cli.EnvVars("ELICIT_BUCKET"),
			Destination: &bucket,
		},
		&cli.StringFlag{
			Name:        "key",
			Usage:       "Object key in the bucket (generated when empty)",
			Destination: &key,
		},
	)

	return &cli.Command{
		Name:  "export",
		Usage: "Export project memories as JSON lines",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			return withStores(ctx, &cfg, func(ctx context.Context, s *stores) error {
				var (
					w    io.WriteCloser
					dest string
				)

				switch {
				case bucket != "":
					storage, err := cfg.newStorage(ctx, bucket)
					if err != nil {
						return err
					}
					if key == "" {
						key = fmt.Sprintf("memories/%d/%s.jsonl", projectID, time.Now().UTC().Format("20060102T150405Z"))
					}
					w, err = storage.Put(ctx, key)
					if err != nil {
						return err
					}
					dest = "gs://" + bucket + "/" + key

				case output != "":
					f, err := os.Create(output)
					if err != nil {
						return goerr.Wrap(err, "failed to create output file", goerr.V("path", output))
					}
					w, dest = f, output

				default:
					n, err := s.coordinator.Export(ctx, s.db, projectID, c.Root().Writer)
					logging.From(ctx).Info("memories exported", "count", n, "project_id", projectID)
					return err
				}

				n, err := s.coordinator.Export(ctx, s.db, projectID, w)
				if err != nil {
					_ = w.Close()
					return err
				}
				if err := w.Close(); err != nil {
					return goerr.Wrap(err, "failed to finish export", goerr.V("dest", dest))
				}

				fmt.Fprintf(c.Root().Writer, "Exported %d memories to %s\n", n, dest)
				return nil
			})
		},
	}
}

func memoryImportCommand() *cli.Command {
	var (
		cfg       config
		projectID int64
		input     string
		bucket    string
		key       string
	)

	flags := memoryFlags(&cfg,
		&cli.IntFlag{
			Name:        "project-id",
			Usage:       "Import into this project instead of the exported one",
			Destination: &projectID,
		},
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Export file to read ('-' reads stdin)",
			Destination: &input,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket holding the export",
			Sources:     cli.EnvVars("ELICIT_BUCKET"),
			Destination: &bucket,
		},
		&cli.StringFlag{
			Name:        "key",
			Usage:       "Object key of the export in the bucket",
			Destination: &key,
		},
	)

	return &cli.Command{
		Name:  "import",
		Usage: "Recreate memories from a JSON lines export",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			return withStores(ctx, &cfg, func(ctx context.Context, s *stores) error {
				var r io.ReadCloser

				switch {
				case bucket != "":
					if key == "" {
						return goerr.New("key is required with bucket")
					}
					storage, err := cfg.newStorage(ctx, bucket)
					if err != nil {
						return err
					}
					if r, err = storage.Get(ctx, key); err != nil {
						return err
					}

				case input == "-":
					r = io.NopCloser(os.Stdin)

				case input != "":
					f, err := os.Open(input)
					if err != nil {
						return goerr.Wrap(err, "failed to open input file", goerr.V("path", input))
					}
					r = f

				default:
					return goerr.New("input or bucket is required")
				}
				defer r.Close()

				inputs, err := readExport(r, projectID)
				if err != nil {
					return err
				}
				if len(inputs) == 0 {
					fmt.Fprintf(c.Root().Writer, "Nothing to import\n")
					return nil
				}

				records, err := s.coordinator.CreateBatch(ctx, s.db, inputs)
				if err != nil {
					return err
				}

				fmt.Fprintf(c.Root().Writer, "Imported %d memories\n", len(records))
				return nil
			})
		},
	}
}

// readExport decodes export lines into create inputs. A positive projectID overrides the
// exported project.
func readExport(r io.Reader, projectID int64) ([]memory.CreateInput, error) {
	var inputs []memory.CreateInput

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var entry memory.ExportEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, goerr.Wrap(err, "failed to parse export line", goerr.V("line", line))
		}

		// reserved keys are rewritten by the coordinator for the new row
		for _, k := range []string{model.MetaProjectID, model.MetaSourceKind, model.MetaSourceID, model.MetaMemoryID, model.MetaCreatedAt} {
			delete(entry.Metadata, k)
		}

		input := memory.CreateInput{
			ProjectID:  entry.ProjectID,
			Text:       entry.Text,
			SourceKind: entry.SourceKind,
			SourceID:   entry.SourceID,
			Metadata:   entry.Metadata,
		}
		if projectID > 0 {
			input.ProjectID = projectID
		}
		inputs = append(inputs, input)
	}
	if err := scanner.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to read export")
	}

	return inputs, nil
}
