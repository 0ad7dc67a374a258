package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meigma/sqpack/snapshot"
)

var snapshotWorkers int

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Record and verify file digests of the game root",
	Long: `Snapshot records the size and digest of every file under the game root
into a YAML manifest, and later reports what changed. Taking a snapshot
before a patch and verifying after it lists the files the patch touched.`,
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create <manifest.yaml>",
	Short: "Write a manifest of the game root",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotCreate,
}

var snapshotVerifyCmd = &cobra.Command{
	Use:   "verify <manifest.yaml>",
	Short: "Compare the game root against a manifest",
	Long: `Verify prints one line per added, removed or changed file and exits
with status 1 when anything differs.`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshotVerify,
}

func init() {
	snapshotCmd.PersistentFlags().IntVar(&snapshotWorkers, "workers", 0, "files hashed in parallel (default: number of CPUs)")
	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotVerifyCmd)
}

func snapshotOptions(cmd *cobra.Command) ([]snapshot.Option, error) {
	logger, err := NewLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return []snapshot.Option{
		snapshot.WithWorkers(snapshotWorkers),
		snapshot.WithLogger(logger),
		snapshot.WithInclude(func(p string) bool { return p != LockFileName }),
	}, nil
}

func runSnapshotCreate(cmd *cobra.Command, args []string) error {
	opts, err := snapshotOptions(cmd)
	if err != nil {
		return err
	}
	unlock, err := lockRoot(cfg.Root, true, cfg.Lock.Timeout)
	if err != nil {
		return err
	}
	defer unlock()

	m, err := snapshot.Create(cmd.Context(), cfg.Root, opts...)
	if err != nil {
		return err
	}
	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	if err := m.Save(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d files\n", args[0], len(m.Files))
	return nil
}

func runSnapshotVerify(cmd *cobra.Command, args []string) error {
	opts, err := snapshotOptions(cmd)
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	m, err := snapshot.Load(f)
	f.Close()
	if err != nil {
		return err
	}

	unlock, err := lockRoot(cfg.Root, true, cfg.Lock.Timeout)
	if err != nil {
		return err
	}
	defer unlock()

	changes, err := m.Verify(cmd.Context(), cfg.Root, opts...)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, c := range changes {
		fmt.Fprintf(out, "%s\t%s\n", c.Kind, c.Path)
	}
	if len(changes) > 0 {
		return fmt.Errorf("%d files differ from %s", len(changes), args[0])
	}
	return nil
}
