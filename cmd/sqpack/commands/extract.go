package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/sqpack"
)

var (
	extractOut       string
	extractSkip      bool
	extractOverwrite bool
	extractWorkers   int
	extractLocOf     bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <path>...",
	Short: "Extract files from the archive",
	Long: `Extract reconstructs files from the archive by their in-game path.

With a single path and no --out, the file is written to stdout. With --out,
every path is written below that directory, keeping its folder structure.

Examples:
  # Print the root sheet list
  sqpack extract --root ~/game exd/root.exl

  # Extract several files into ./out
  sqpack extract --root ~/game --out out exd/root.exl music/ex2/bgm_ex2_field.scd

  # Show where a file lives instead of extracting it
  sqpack extract --root ~/game --location exd/root.exl`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

var existsCmd = &cobra.Command{
	Use:   "exists <path>",
	Short: "Report whether a path is in the archive",
	Long: `Exists looks the path up in the index tables without reading any data.
It prints true or false and exits with status 1 when the path is missing.`,
	Args: cobra.ExactArgs(1),
	RunE: runExists,
}

func init() {
	extractCmd.Flags().StringVarP(&extractOut, "out", "o", "", "directory to write extracted files to")
	extractCmd.Flags().BoolVar(&extractSkip, "skip-missing", false, "log and skip paths missing from the archive")
	extractCmd.Flags().BoolVar(&extractOverwrite, "overwrite", false, "replace files that already exist in --out")
	extractCmd.Flags().IntVar(&extractWorkers, "workers", 0, "files extracted in parallel (default: number of CPUs)")
	extractCmd.Flags().BoolVar(&extractLocOf, "location", false, "print the record location instead of the content")
}

func runExtract(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	if extractLocOf {
		for _, name := range args {
			loc, ok := s.archive.Lookup(name)
			if !ok {
				return fmt.Errorf("%s: %w", name, sqpack.ErrNotFound)
			}
			fmt.Fprintf(out, "%s\t%s\n", name, loc)
		}
		return nil
	}

	if extractOut == "" {
		if len(args) > 1 {
			return errors.New("extracting several files needs --out")
		}
		_, err := s.archive.ExtractTo(args[0], out)
		return err
	}

	return s.archive.CopyTo(cmd.Context(), extractOut, args,
		sqpack.CopyWithOverwrite(extractOverwrite),
		sqpack.CopyWithSkipMissing(extractSkip),
		sqpack.CopyWithWorkers(extractWorkers),
	)
}

func runExists(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	defer s.Close()

	ok := s.archive.Exists(args[0])
	fmt.Fprintln(cmd.OutOrStdout(), ok)
	if !ok {
		return fmt.Errorf("%s: %w", args[0], sqpack.ErrNotFound)
	}
	return nil
}
