package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/sqpack/internal/pathhash"
)

var hashCmd = &cobra.Command{
	Use:   "hash <path>...",
	Short: "Print the index hashes of archive paths",
	Long: `Hash prints the composite hash used by .index tables and the full-path
hash used by .index2 tables. Paths are normalised before hashing, so case
and slash direction do not matter.

Example:
  sqpack hash exd/root.exl`,
	Args: cobra.MinimumNArgs(1),
	// Hashing needs no config or game root.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, p := range args {
			fmt.Fprintf(out, "%s\tindex=%016x\tindex2=%08x\n", pathhash.Normalize(p), pathhash.Index1(p), pathhash.Index2(p))
		}
		return nil
	},
}
