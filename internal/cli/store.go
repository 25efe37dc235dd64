package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"kb-toolkit/internal/store"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the vector store",
}

var storeResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove every document from the vector store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd.Context(), func(st store.Store) error {
			if err := st.Reset(cmd.Context()); err != nil {
				return err
			}
			cmd.Printf("Store %s reset\n", cfg.Store.Backend)
			return nil
		})
	},
}

// fileStore is implemented by stores that can be copied to a single file.
type fileStore interface {
	Export(path string) error
	Import(path string) error
}

var storeExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the chromem collection to a file",
	Long: `Writes the collection to file, or next to the database when no file is
given. The file is compressed and encrypted as configured.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFileStore(cmd, func(fs fileStore) error {
			return fs.Export(fileArg(args))
		})
	},
}

var storeImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Load the chromem collection from an exported file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFileStore(cmd, func(fs fileStore) error {
			return fs.Import(fileArg(args))
		})
	},
}

func init() {
	storeCmd.AddCommand(storeResetCmd, storeExportCmd, storeImportCmd)
	rootCmd.AddCommand(storeCmd)
}

func fileArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func withFileStore(cmd *cobra.Command, fn func(fileStore) error) error {
	return withStore(cmd.Context(), func(st store.Store) error {
		fs, ok := st.(fileStore)
		if !ok {
			return fmt.Errorf("store backend %s cannot be exported", cfg.Store.Backend)
		}
		if err := fn(fs); err != nil {
			return err
		}
		cmd.Println("Done")
		return nil
	})
}
