package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/elicit/pkg/usecase/memory"
	"github.com/m-mizutani/elicit/pkg/workflow"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func clarifyCommand() *cli.Command {
	var (
		cfg       config
		inputPath string
		history   []string
		fields    string
		projectID int64
		messageID int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Path to a JSON turn input (text, conversation_history, extracted_fields); '-' reads stdin",
			Destination: &inputPath,
		},
		&cli.StringSliceFlag{
			Name:        "history",
			Usage:       "Prior conversation turn, repeatable",
			Destination: &history,
		},
		&cli.StringFlag{
			Name:        "fields",
			Usage:       "Extracted fields as a JSON object",
			Destination: &fields,
		},
		&cli.IntFlag{
			Name:        "project-id",
			Usage:       "Project whose memory is recalled and written (memory disabled when 0)",
			Sources:     cli.EnvVars("ELICIT_PROJECT_ID"),
			Destination: &projectID,
		},
		&cli.IntFlag{
			Name:        "message-id",
			Usage:       "Source ID of the memory written for this turn; write-back is skipped unless positive",
			Destination: &messageID,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, workflowFlags(&cfg)...)

	return &cli.Command{
		Name:      "clarify",
		Usage:     "Analyze one requirement statement and print the turn output as JSON",
		ArgsUsage: "[text]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}

			input, err := readTurnInput(inputPath, c.Args().Slice())
			if err != nil {
				return err
			}
			if len(history) > 0 {
				input.ConversationHistory = append(input.ConversationHistory, history...)
			}
			if fields != "" {
				if err := json.Unmarshal([]byte(fields), &input.ExtractedFields); err != nil {
					return goerr.Wrap(err, "failed to parse fields", goerr.V("fields", fields))
				}
			}

			var coordinator *memory.Coordinator
			state := workflow.NewState(input)

			if projectID > 0 {
				s, err := cfg.openStores(ctx)
				if err != nil {
					return err
				}
				defer s.Close(ctx)

				coordinator = s.coordinator
				state.ProjectID = projectID
				state.MessageID = messageID
				state.DB = s.db
			}

			engine, closeEngine, err := cfg.newEngine(ctx, coordinator)
			if err != nil {
				return err
			}
			defer closeEngine()

			output, err := engine.Run(ctx, state)
			if err != nil {
				return err
			}

			return printJSON(c.Root().Writer, output)
		},
	}
}

// readTurnInput loads the turn from a JSON file or stdin, or builds it from the positional text
func readTurnInput(path string, args []string) (*model.TurnInput, error) {
	if path == "" {
		text := strings.Join(args, " ")
		if strings.TrimSpace(text) == "" {
			return nil, goerr.New("text or --input is required")
		}
		return &model.TurnInput{Text: text}, nil
	}

	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open input file", goerr.V("path", path))
		}
		defer f.Close()
		r = f
	}

	var input model.TurnInput
	if err := json.NewDecoder(r).Decode(&input); err != nil {
		return nil, goerr.Wrap(err, "failed to parse turn input", goerr.V("path", path))
	}
	return &input, nil
}
