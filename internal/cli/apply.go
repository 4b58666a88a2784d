package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/graphwriter/internal/model"
	"github.com/roach88/graphwriter/internal/service"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	Database          string
	ModelRef          string
	DuplicateStrategy string
}

// BatchFile is the on-disk form of a submission. JSON files parse as YAML.
type BatchFile struct {
	Changes           []map[string]any `yaml:"changes"`
	DuplicateStrategy string           `yaml:"duplicateStrategy"`
	IdempotencyKey    string           `yaml:"idempotencyKey"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply <batch-file>",
		Short: "Apply one batch file to the graph and print the operation",
		Long: `Queue the changes in a YAML or JSON batch file, run the processor until
the operation finishes, and print the resulting operation with its digest
and, on failure, its diagnosis.

Example:
  graphwriter apply --db ./graph.db batch.yaml
  graphwriter apply --format json --duplicates skip batch.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite graph (overrides graph.path)")
	cmd.Flags().StringVar(&opts.ModelRef, "model", "", "model to apply the batch to (overrides graph.model_ref)")
	cmd.Flags().StringVar(&opts.DuplicateStrategy, "duplicates", "", "duplicate strategy when the file sets none (error|skip|reuse)")

	return cmd
}

func runApply(opts *ApplyOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Database != "" {
		cfg.Graph.Path = opts.Database
	}
	if opts.ModelRef != "" {
		cfg.Graph.ModelRef = opts.ModelRef
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}

	batch, err := LoadBatchFile(path)
	if err != nil {
		_ = formatter.Error(ErrCodeBatchInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load batch", err)
	}
	if batch.DuplicateStrategy == "" {
		batch.DuplicateStrategy = opts.DuplicateStrategy
	}
	formatter.VerboseLog("loaded %d change(s) from %s", len(batch.Changes), path)

	logger := newLogger(cfg.Log, opts.Verbose, formatter.GetErrWriter())
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Error("error closing graph store", "error", closeErr)
		}
	}()

	submitted, err := a.service.Submit(batch.request())
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			_ = formatter.Error(ErrCodeBatchInvalid, verr.Error(), nil)
			return WrapExitError(ExitFailure, "invalid batch", err)
		}
		return WrapExitError(ExitCommandError, "failed to submit batch", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	op, err := a.awaitTerminal(ctx, submitted.OperationID)
	if err != nil {
		return WrapExitError(ExitCommandError, "batch did not finish", err)
	}

	if op.Status == model.StatusError {
		if formatter.Format == "json" {
			_ = formatter.Error(ErrCodeOperationFailed, op.Error, op)
		} else {
			_ = formatter.Success(describeOperation(op))
		}
		return NewExitError(ExitFailure, fmt.Sprintf("operation %s failed: %s", op.ID, op.Error))
	}

	if formatter.Format == "json" {
		return formatter.Success(op)
	}
	return formatter.Success(describeOperation(op))
}

// LoadBatchFile reads a batch file. Unknown top-level fields are rejected;
// fields inside a change pass through to the apply layer.
func LoadBatchFile(path string) (BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BatchFile{}, fmt.Errorf("failed to read batch file: %w", err)
	}

	var batch BatchFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&batch); err != nil {
		return BatchFile{}, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}
	if len(batch.Changes) == 0 {
		return BatchFile{}, fmt.Errorf("batch file %s has no changes", path)
	}
	return batch, nil
}

func (b BatchFile) request() service.SubmitRequest {
	changes := make([]model.Change, len(b.Changes))
	for i, c := range b.Changes {
		changes[i] = model.Change(c)
	}
	return service.SubmitRequest{
		Changes:           changes,
		IdempotencyKey:    b.IdempotencyKey,
		DuplicateStrategy: b.DuplicateStrategy,
	}
}

// awaitTerminal drives processor cycles until the operation finishes. A
// batch that outlives the processing timeout is failed by the cycle's
// timeout sweep, so this terminates without the context being cancelled.
func (a *app) awaitTerminal(ctx context.Context, id string) (model.Operation, error) {
	hooks := a.hooks()
	interval := a.queue.Config().ProcessorInterval
	for {
		op, ok := a.queue.Status(id)
		if !ok {
			return model.Operation{}, fmt.Errorf("operation %s: %w", id, service.ErrNotFound)
		}
		if op.Status.Terminal() {
			return op, nil
		}
		if err := a.queue.RunCycle(ctx, hooks); err != nil {
			return model.Operation{}, err
		}
		if op, ok = a.queue.Status(id); ok && op.Status.Terminal() {
			return op, nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return model.Operation{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// describeOperation renders the text form of a finished operation.
func describeOperation(op model.Operation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "operation %s: %s\n", op.ID, op.Status)
	if d := op.Digest; d != nil {
		fmt.Fprintf(&b, "  changes: %d requested, %d executed, %d skipped\n",
			d.Totals.Requested, d.Totals.Executed, d.Totals.Skipped)
	}
	for _, m := range op.TempIDMappings {
		fmt.Fprintf(&b, "  %s -> %s (%s)\n", m.TempID, m.RealID, m.Op)
	}
	for i, r := range op.Result {
		if r.Skipped {
			fmt.Fprintf(&b, "  skipped #%d %s: %s\n", i+1, r.Op, r.Reason)
		}
	}
	if op.Status == model.StatusError {
		fmt.Fprintf(&b, "  error: %s\n", op.Error)
		if ed := op.ErrorDetails; ed != nil {
			if ed.Path != "" {
				fmt.Fprintf(&b, "  at: %s\n", ed.Path)
			}
			if ed.Hint != "" {
				fmt.Fprintf(&b, "  hint: %s\n", ed.Hint)
			}
		}
		for _, h := range op.RetryHints {
			fmt.Fprintf(&b, "  retry: %s\n", h.Message)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
