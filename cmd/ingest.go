package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sociallens/social-ingest/internal/app"
	"github.com/sociallens/social-ingest/internal/entity"
	"github.com/sociallens/social-ingest/internal/run"
)

// rawLine mirrors the NDJSON handed over by the scraping scheduler.
type rawLine struct {
	Kind     string         `json:"kind"`
	SourceID string         `json:"source_id"`
	Fields   map[string]any `json:"fields"`
}

// newIngestCmd creates the 'ingest' subcommand. It opens a run, streams raw
// records from the input through the persistence coordinator, and closes the
// run with exactly one terminal transition.
func newIngestCmd() *cobra.Command {
	var (
		inputPath  string
		sourceID   string
		runIDFlag  string
		windowDays int
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Persist a batch of scraped records as one run",
		Long: `Reads newline-delimited JSON records from the input (or stdin) and
persists them through the idempotent pipeline. The whole batch is tracked as
a single run: it finishes when the input is drained and fails if the stream
cannot be read.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if sourceID == "" {
				return fmt.Errorf("--source is required")
			}

			var runID uuid.UUID
			if runIDFlag != "" {
				runID, err = uuid.Parse(runIDFlag)
				if err != nil {
					return fmt.Errorf("invalid --run-id: %w", err)
				}
			}

			in, closeIn, err := openInput(inputPath)
			if err != nil {
				return err
			}
			defer closeIn()

			ctx := cmd.Context()
			token, err := appInstance.Manager().Start(ctx, run.StartParams{
				SourceID:   sourceID,
				WindowDays: windowDays,
				RunID:      runID,
			})
			if err != nil {
				return fmt.Errorf("start run: %w", err)
			}
			logger := token.Logger(appInstance.Logger())
			logger.Info("run started", zap.String("source_id", sourceID))

			streamErr := streamRecords(cmd, appInstance, in, sourceID)

			// Exactly one terminal transition per run.
			if streamErr != nil {
				if failErr := appInstance.Manager().Fail(ctx, streamErr.Error()); failErr != nil {
					logger.Error("failed to record run failure", zap.Error(failErr))
				}
				return fmt.Errorf("ingest run %s: %w", token.RunID, streamErr)
			}
			if err := appInstance.Manager().Finish(ctx); err != nil {
				return fmt.Errorf("finish run %s: %w", token.RunID, err)
			}
			logger.Info("run finished",
				zap.Int64("items_collected", appInstance.Manager().Items()),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "-", "NDJSON input path, - for stdin")
	cmd.Flags().StringVarP(&sourceID, "source", "s", "", "source identity, e.g. insta::alice")
	cmd.Flags().StringVar(&runIDFlag, "run-id", "", "externally assigned run id (UUID)")
	cmd.Flags().IntVar(&windowDays, "window-days", 0, "collection window recorded on the run (0 = config default)")

	return cmd
}

func streamRecords(cmd *cobra.Command, appInstance *app.App, in io.Reader, defaultSource string) error {
	logger := appInstance.Logger()
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		if err := cmd.Context().Err(); err != nil {
			return err
		}
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw rawLine
		if err := json.Unmarshal(line, &raw); err != nil {
			// Malformed lines are skipped like any other bad record.
			logger.Warn("skipping malformed input line",
				zap.Int("line", lineNo),
				zap.Error(err),
			)
			continue
		}
		if raw.SourceID == "" {
			raw.SourceID = defaultSource
		}
		if err := appInstance.Coordinator().Ingest(cmd.Context(), entity.RawRecord{
			Kind:     raw.Kind,
			SourceID: raw.SourceID,
			Fields:   raw.Fields,
		}); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
