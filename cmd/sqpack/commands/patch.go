package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	promMetrics "github.com/meigma/sqpack/metrics/prometheus"
	"github.com/meigma/sqpack/zipatch"
)

var patchMaxChunk uint32

var patchCmd = &cobra.Command{
	Use:   "patch",
	Short: "Apply, create and inspect ZiPatch files",
}

var patchApplyCmd = &cobra.Command{
	Use:   "apply <file.patch>...",
	Short: "Apply patch files to the game root",
	Long: `Apply writes the chunks of each patch file into the game root, in the
order given. The game root is locked exclusively for the whole run.

Application stops at the first failing chunk. Chunks applied before the
failure stay applied; the error names the chunk index and file offset.

Examples:
  sqpack patch apply --root ~/game H2017.07.11.0000.0000a.patch

  # Watch progress on :9102/metrics
  sqpack patch apply --root ~/game --metrics-addr :9102 D*.patch`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPatchApply,
}

var patchCreateCmd = &cobra.Command{
	Use:   "create <base-dir> <target-dir> <out.patch>",
	Short: "Write a patch turning one game tree into another",
	Long: `Create compares two game roots file by file and writes a patch that
adds every new or changed file and deletes every file missing from the
target. Applying the output to base-dir yields target-dir.`,
	Args: cobra.ExactArgs(3),
	RunE: runPatchCreate,
}

var patchInspectCmd = &cobra.Command{
	Use:   "inspect <file.patch>",
	Short: "List the chunks of a patch file",
	Long: `Inspect parses a patch file without applying it and prints one line
per chunk: index, offset, magic, size and decoded operation.`,
	Args: cobra.ExactArgs(1),
	RunE: runPatchInspect,
}

func init() {
	patchCmd.PersistentFlags().Uint32Var(&patchMaxChunk, "max-chunk-size", zipatch.DefaultMaxChunkSize, "reject chunks declaring a larger payload")
	patchCmd.AddCommand(patchApplyCmd)
	patchCmd.AddCommand(patchCreateCmd)
	patchCmd.AddCommand(patchInspectCmd)
}

func runPatchApply(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer s.Close()

	opts := []zipatch.Option{
		zipatch.WithLogger(s.logger),
		zipatch.WithMetrics(promMetrics.NewPatchMetrics(s.metrics.reg)),
		zipatch.WithMaxChunkSize(patchMaxChunk),
	}
	out := cmd.OutOrStdout()
	for _, name := range args {
		res, err := applyFile(ctx, s, name, opts)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		fmt.Fprintf(out, "%s: applied %d chunks (%d bytes) in %s\n", name, res.Chunks, res.Bytes, res.Duration)
	}
	return nil
}

func applyFile(ctx context.Context, s *session, name string, opts []zipatch.Option) (*zipatch.Result, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.archive.ApplyPatch(ctx, f, opts...)
}

func runPatchCreate(cmd *cobra.Command, args []string) error {
	logger, err := NewLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	base, target, outPath := args[0], args[1], args[2]

	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	stats, err := zipatch.Diff(cmd.Context(), base, target, bw)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(outPath)
		return err
	}
	logger.Info("patch written", "path", outPath, "added", stats.Added, "changed", stats.Changed, "deleted", stats.Deleted)
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d added, %d changed, %d deleted\n", outPath, stats.Added, stats.Changed, stats.Deleted)
	return nil
}

func runPatchInspect(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	p, err := zipatch.NewParser(bufio.NewReaderSize(f, 1<<20), zipatch.WithMaxChunkSize(patchMaxChunk))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "INDEX\tOFFSET\tMAGIC\tSIZE\tOPERATION")
	for c, err := range p.Chunks() {
		if err != nil {
			return err
		}
		op, err := zipatch.Decode(c)
		var desc string
		switch {
		case errors.Is(err, zipatch.ErrUnknownChunk):
			desc = "unknown"
		case err != nil:
			return fmt.Errorf("chunk %d: %w", c.Index, err)
		default:
			desc = describe(op)
		}
		fmt.Fprintf(tw, "%d\t%#x\t%s\t%d\t%s\n", c.Index, c.Offset, c.Magic, c.Size(), desc)
	}
	return nil
}

func describe(op zipatch.Operation) string {
	switch o := op.(type) {
	case *zipatch.AddData:
		return fmt.Sprintf("%s %s offset=%#x bytes=%d zero=%d", o.Op(), o.Segment, o.Offset, len(o.Data), o.DeleteLength)
	case *zipatch.DeleteData:
		return fmt.Sprintf("%s %s offset=%#x blocks=%d", o.Op(), o.Segment, o.Offset, o.Blocks)
	case *zipatch.ExpandData:
		return fmt.Sprintf("%s %s offset=%#x blocks=%d", o.Op(), o.Segment, o.Offset, o.Blocks)
	case *zipatch.FileOperation:
		return fmt.Sprintf("%s %c %s offset=%#x bytes=%d", o.Op(), o.Kind, o.Path, o.Offset, len(o.Data))
	case *zipatch.TargetInfo:
		return fmt.Sprintf("%s platform=%s", o.Op(), o.Platform)
	default:
		return op.Op()
	}
}
