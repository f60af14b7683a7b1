package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mark-i-m/zippynfs/pkg/storage"
)

var formatDir string

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Initialize a fresh data directory",
	Long: `Initialize a fresh data directory: the FID counter at its initial
value, the tmp scratch directory, and the root directory object (FID 1).

The directory must not already contain a formatted filesystem.`,
	RunE: runFormat,
}

func init() {
	formatCmd.Flags().StringVar(&formatDir, "dir", "", "data directory to initialize")
	formatCmd.MarkFlagRequired("dir")
}

func runFormat(cmd *cobra.Command, args []string) error {
	if storage.IsFormatted(formatDir) {
		return fmt.Errorf("%s already contains a formatted filesystem", formatDir)
	}
	if err := storage.Format(formatDir); err != nil {
		return err
	}
	fmt.Printf("Formatted %s\n", formatDir)
	return nil
}
