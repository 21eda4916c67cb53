package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "codepad",
	Short: "codepad - browser code playground",
	Long: `codepad is a code playground served to the browser.

HTML/CSS/JS is rendered in place; every other language (Python, Go, C++,
Java, ...) is compiled and run on a Judge0 remote executor.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: ./codepad.yaml or ~/.codepad/codepad.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
