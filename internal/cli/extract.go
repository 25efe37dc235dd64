package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"kb-toolkit/internal/extract"
)

var (
	extractPrompt   string
	extractProvider string
	extractFile     string
)

var extractCmd = &cobra.Command{
	Use:   "extract [dir]",
	Short: "Check document extraction against expected JSON",
	Long: `Extracts every document of dir that has a <name>.expected.json next to
it and compares the answer field by field. With --file a single document is
extracted and printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVar(&extractPrompt, "prompt", "", "instruction prompt file (default from config)")
	extractCmd.Flags().StringVarP(&extractProvider, "provider", "p", "", "chat provider (default from config)")
	extractCmd.Flags().StringVarP(&extractFile, "file", "f", "", "extract one document and print it")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	promptFile := extractPrompt
	if promptFile == "" {
		promptFile = cfg.Extract.PromptFile
	}
	provider := extractProvider
	if provider == "" {
		provider = cfg.Extract.Provider
	}
	chat, err := newChat(cfg, provider)
	if err != nil {
		return err
	}
	extractor, err := extract.NewExtractor(chat, promptFile)
	if err != nil {
		return err
	}

	if extractFile != "" {
		out, tokens, err := extractor.Extract(cmd.Context(), extractFile)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal extraction: %w", err)
		}
		cmd.Println(string(data))
		cmd.Printf("Billed tokens: %d\n", tokens)
		return nil
	}

	dir := cfg.Extract.InputDir
	if len(args) > 0 {
		dir = args[0]
	}
	report, err := extractor.Evaluate(cmd.Context(), dir)
	if report != nil {
		printExtractReport(cmd, report)
	}
	return err
}

func printExtractReport(cmd *cobra.Command, report *extract.Report) {
	for _, res := range report.Results {
		status := "OK"
		if !res.Passed() {
			status = "FAIL"
		}
		cmd.Printf("%-4s %s fields=%d tokens=%d time=%s\n", status, res.Document, res.Fields, res.Tokens, res.Duration.Round(time.Millisecond))
		if res.Error != "" {
			cmd.Printf("     error: %s\n", res.Error)
		}
		for _, d := range res.Differences {
			cmd.Printf("     %s: expected %v, got %v\n", d.Path, d.Left, d.Right)
		}
	}
	cmd.Printf("%d/%d passed, %d billed tokens\n", report.Passed, len(report.Results), report.TotalTokens)
}
