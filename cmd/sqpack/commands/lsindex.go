package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	lsIndexSegment string
	lsIndexRepos   bool
)

var lsIndexCmd = &cobra.Command{
	Use:   "ls-index",
	Short: "List index table entries",
	Long: `Ls-index prints every entry of every index table: segment, table,
hash and record location. Tables that fail to parse are reported and
skipped.

Examples:
  # Everything
  sqpack ls-index --root ~/game

  # Only the exd segment of the base game
  sqpack ls-index --root ~/game --segment 0a0000

  # Repositories and their versions
  sqpack ls-index --root ~/game --repositories`,
	Args: cobra.NoArgs,
	RunE: runLsIndex,
}

func init() {
	lsIndexCmd.Flags().StringVar(&lsIndexSegment, "segment", "", "only list segments whose CCEEKK id starts with this prefix")
	lsIndexCmd.Flags().BoolVar(&lsIndexRepos, "repositories", false, "list repositories instead of entries")
}

func runLsIndex(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	defer s.Close()

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	defer tw.Flush()

	if lsIndexRepos {
		fmt.Fprintln(tw, "EXPANSION\tNAME\tVERSION\tSEGMENTS")
		for _, r := range s.archive.Repositories() {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", r.Expansion, r.Name, r.Version, r.Segments)
		}
		return nil
	}

	fmt.Fprintln(tw, "SEGMENT\tTABLE\tHASH\tLOCATION\tSYNONYM")
	var failed int
	for e, err := range s.archive.IndexEntries() {
		if !strings.HasPrefix(e.Segment, lsIndexSegment) {
			continue
		}
		if err != nil {
			s.logger.Error("index table unreadable", "segment", e.Segment, "error", err)
			failed++
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%016x\t%s\t%t\n", e.Segment, e.Table, e.Hash, e.Location, e.Location.Synonym)
	}
	if failed > 0 {
		return fmt.Errorf("%d index tables could not be read", failed)
	}
	return nil
}
