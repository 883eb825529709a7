package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "tally",
		Short:         "Transaction categorization serving platform",
		Long:          "tally embeds transaction text with an ONNX sentence encoder and categorizes it against per-category prototype embeddings, with quantized model variants, live monitoring, and A/B routing.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newExportCmd(), newBenchmarkCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tally:", err)
		os.Exit(1)
	}
}
