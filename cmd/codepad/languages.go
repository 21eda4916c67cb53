package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/codepad/internal/judge0"
	"github.com/michaelbrown/codepad/internal/language"
)

var remoteFlag bool

var languagesCmd = &cobra.Command{
	Use:     "languages",
	Aliases: []string{"langs"},
	Short:   "List the selectable languages",
	Long: `List the languages offered in the editor and the executor id each one
is submitted with. --remote lists what the configured executor supports.`,
	RunE: runLanguages,
}

func init() {
	languagesCmd.Flags().BoolVar(&remoteFlag, "remote", false, "Query the remote executor instead")
	rootCmd.AddCommand(languagesCmd)
}

func runLanguages(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if remoteFlag {
		client, err := judge0.NewClient(cfg.Judge0Config())
		if err != nil {
			return err
		}
		remote, err := client.Languages(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing remote languages: %w", err)
		}
		sort.Slice(remote, func(i, j int) bool { return remote[i].ID < remote[j].ID })
		fmt.Fprintf(out, "%-6s %s\n", "ID", "NAME")
		for _, l := range remote {
			fmt.Fprintf(out, "%-6d %s\n", l.ID, l.Name)
		}
		return nil
	}

	langs, err := loadLanguages(cfg)
	if err != nil {
		return err
	}
	printLanguages(cmd, langs.Table())
	return nil
}

func printLanguages(cmd *cobra.Command, t *language.Table) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-14s %-24s %-10s %s\n", "KEY", "NAME", "EXECUTOR", "MODE")
	fmt.Fprintln(out, strings.Repeat("─", 60))
	for _, d := range t.All() {
		exec := "local"
		if d.ExecutorID != nil {
			exec = strconv.Itoa(*d.ExecutorID)
		} else if !d.IsLocal() {
			exec = "-"
		}
		fmt.Fprintf(out, "%-14s %-24s %-10s %s\n", d.Key, d.Name, exec, d.Mode())
	}
}
