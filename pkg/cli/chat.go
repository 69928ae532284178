package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/elicit/pkg/model"
	"github.com/m-mizutani/elicit/pkg/usecase/memory"
	"github.com/m-mizutani/elicit/pkg/workflow"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func chatCommand() *cli.Command {
	var (
		cfg         config
		projectID   int64
		historyFile string
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "project-id",
			Usage:       "Project whose memory is recalled and written (memory disabled when 0)",
			Sources:     cli.EnvVars("ELICIT_PROJECT_ID"),
			Destination: &projectID,
		},
		&cli.StringFlag{
			Name:        "history-file",
			Usage:       "Readline history file",
			Sources:     cli.EnvVars("ELICIT_HISTORY_FILE"),
			Destination: &historyFile,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, workflowFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive requirement clarification session",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}

			var (
				coordinator *memory.Coordinator
				s           *stores
			)
			if projectID > 0 {
				s, err = cfg.openStores(ctx)
				if err != nil {
					return err
				}
				defer s.Close(ctx)
				coordinator = s.coordinator
			}

			engine, closeEngine, err := cfg.newEngine(ctx, coordinator)
			if err != nil {
				return err
			}
			defer closeEngine()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				HistoryFile:     historyFile,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			w := c.Root().Writer
			fmt.Fprintf(w, "Clarification session started. Type 'exit' to quit, '/reset' to clear the conversation.\n")

			session := &chatSession{
				engine:    engine,
				stores:    s,
				projectID: projectID,
				nextID:    time.Now().UnixMilli(),
			}

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						break
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				text := strings.TrimSpace(line)
				switch text {
				case "":
					continue
				case "exit", "quit":
					fmt.Fprintf(w, "\nSession completed\n")
					return nil
				case "/reset":
					session.history = nil
					fmt.Fprintf(w, "Conversation cleared.\n")
					continue
				}

				output, err := session.send(ctx, text)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\n", strings.TrimRight(output.ResponseText, "\n"))
				fmt.Fprintf(w, "  [clarity %d/100, intent %s]\n\n", output.ClarityScore, output.Intent)
			}

			fmt.Fprintf(w, "\nSession completed\n")
			return nil
		},
	}
}

// chatSession threads the conversation history and message IDs through consecutive turns
type chatSession struct {
	engine    *workflow.Engine
	stores    *stores
	projectID int64
	history   []string
	nextID    int64
}

func (x *chatSession) send(ctx context.Context, text string) (*model.TurnOutput, error) {
	state := workflow.NewState(&model.TurnInput{
		Text:                text,
		ConversationHistory: x.history,
	})
	if x.stores != nil {
		state.ProjectID = x.projectID
		state.MessageID = x.nextID
		state.DB = x.stores.db
	}
	x.nextID++

	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	spin.Suffix = " analyzing..."
	spin.Start()
	output, err := x.engine.Run(ctx, state)
	spin.Stop()
	if err != nil {
		return nil, err
	}

	x.history = append(x.history, text)
	return output, nil
}
