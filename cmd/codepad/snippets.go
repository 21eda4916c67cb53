package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/codepad/internal/language"
	"github.com/michaelbrown/codepad/internal/storage"
)

var (
	languageFilter string
	limitFlag      int
	exportFormat   string
	exportOutput   string
	forceFlag      bool
)

var snippetsCmd = &cobra.Command{
	Use:     "snippets",
	Aliases: []string{"snippet", "s"},
	Short:   "Manage saved snippets",
}

var snippetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved snippets",
	RunE:  runSnippetsList,
}

var snippetsShowCmd = &cobra.Command{
	Use:   "show <snippet-id>",
	Short: "Show a snippet and its code",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnippetsShow,
}

var snippetsDeleteCmd = &cobra.Command{
	Use:   "delete <snippet-id>",
	Short: "Delete a snippet",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnippetsDelete,
}

var snippetsExportCmd = &cobra.Command{
	Use:   "export <snippet-id>",
	Short: "Export a snippet as markdown or JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnippetsExport,
}

func init() {
	rootCmd.AddCommand(snippetsCmd)
	snippetsCmd.AddCommand(snippetsListCmd, snippetsShowCmd, snippetsDeleteCmd, snippetsExportCmd)

	snippetsListCmd.Flags().StringVar(&languageFilter, "language", "", "Filter by language key")
	snippetsListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max snippets to show")

	snippetsExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md or json")
	snippetsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	snippetsDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func runSnippetsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	snippets, err := store.ListSnippets(cmd.Context(), storage.SnippetListOptions{
		Language: languageFilter,
		Limit:    limitFlag,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(snippets) == 0 {
		fmt.Fprintln(out, "No snippets found.")
		return nil
	}

	fmt.Fprintf(out, "%-10s %-14s %-40s %s\n", "ID", "LANGUAGE", "TITLE", "UPDATED")
	fmt.Fprintln(out, strings.Repeat("─", 80))

	for _, s := range snippets {
		title := s.Title
		if len(title) > 38 {
			title = title[:38] + ".."
		}
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(out, "%-10s %-14s %-40s %s\n", shortID(s.ID), s.Language, title, timeAgo(s.UpdatedAt))
	}
	return nil
}

func runSnippetsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sn, err := store.GetSnippet(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Snippet:  %s\n", sn.ID)
	fmt.Fprintf(out, "Title:    %s\n", sn.Title)
	fmt.Fprintf(out, "Language: %s\n", sn.Language)
	fmt.Fprintf(out, "Created:  %s\n", sn.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Updated:  %s\n", sn.UpdatedAt.Format(time.RFC3339))
	if sn.Stdin != "" {
		fmt.Fprintf(out, "Input:    %s\n", truncate(sn.Stdin, 60))
	}
	fmt.Fprintln(out, strings.Repeat("─", 60))

	if sn.Language == language.LocalRender {
		for _, p := range []struct{ name, text string }{
			{"html", sn.Parts.HTML}, {"css", sn.Parts.CSS}, {"js", sn.Parts.JS},
		} {
			fmt.Fprintf(out, "\033[33m%s\033[0m\n%s\n", p.name, p.text)
		}
		return nil
	}
	fmt.Fprintln(out, sn.Source)
	return nil
}

func runSnippetsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sn, err := store.GetSnippet(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !forceFlag {
		title := sn.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(out, "Delete snippet %s - %q? [y/N] ", shortID(sn.ID), title)
		var confirm string
		fmt.Fscanln(cmd.InOrStdin(), &confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	if err := store.DeleteSnippet(cmd.Context(), sn.ID); err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted snippet %s\n", shortID(sn.ID))
	return nil
}

func runSnippetsExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sn, err := store.GetSnippet(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(sn)
		if err != nil {
			return err
		}
		output = string(data) + "\n"
	case "md", "markdown":
		output = storage.ExportMarkdown(sn)
	default:
		return fmt.Errorf("unknown format %q (want md or json)", exportFormat)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Fprint(cmd.OutOrStdout(), output)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
