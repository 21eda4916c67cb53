package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/codepad/internal/dispatch"
	"github.com/michaelbrown/codepad/internal/language"
)

var (
	langFlag      string
	stdinFlag     string
	stdinFileFlag string
	cssFileFlag   string
	jsFileFlag    string
	verboseFlag   bool
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run a source file once and print its output",
	Long: `Run a source file through the same dispatcher the web UI uses.

The language is taken from --lang or guessed from the file extension. HTML
files are rendered locally and printed as a data: URL; --css and --js add the
other two parts.

Examples:
  codepad run hello.py
  codepad run main.go --stdin "5 7"
  codepad run page.html --css page.css --js page.js`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&langFlag, "lang", "", "Language key (default: from file extension)")
	runCmd.Flags().StringVar(&stdinFlag, "stdin", "", "Program input")
	runCmd.Flags().StringVar(&stdinFileFlag, "stdin-file", "", "Read program input from a file")
	runCmd.Flags().StringVar(&cssFileFlag, "css", "", "CSS file for HTML runs")
	runCmd.Flags().StringVar(&jsFileFlag, "js", "", "JavaScript file for HTML runs")
	runCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "Print run states")
	rootCmd.AddCommand(runCmd)
}

var extensions = map[string]string{
	".html": language.LocalRender,
	".htm":  language.LocalRender,
	".js":   "javascript",
	".mjs":  "javascript",
	".py":   "python",
	".cpp":  "cpp",
	".cc":   "cpp",
	".cxx":  "cpp",
	".java": "java",
	".php":  "php",
	".c":    "c",
	".go":   "go",
	".rb":   "ruby",
}

func languageForFile(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if key, ok := extensions[ext]; ok {
		return key, nil
	}
	return "", fmt.Errorf("cannot tell the language of %s; pass --lang", path)
}

func readOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	if !verboseFlag {
		log = zap.NewNop()
	}

	rt, err := newRuntime(cfg, log, nil, nil)
	if err != nil {
		return err
	}

	key := langFlag
	if key == "" {
		if key, err = languageForFile(args[0]); err != nil {
			return err
		}
	}

	src, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	req := dispatch.Request{LanguageID: key, Stdin: stdinFlag}
	if stdinFileFlag != "" {
		if req.Stdin, err = readOptional(stdinFileFlag); err != nil {
			return err
		}
	}
	if key == language.LocalRender {
		req.Parts.HTML = string(src)
		if req.Parts.CSS, err = readOptional(cssFileFlag); err != nil {
			return err
		}
		if req.Parts.JS, err = readOptional(jsFileFlag); err != nil {
			return err
		}
	} else {
		req.Source = string(src)
	}

	out := cmd.OutOrStdout()
	if verboseFlag {
		req.OnState = func(s dispatch.State, attempt int) {
			if attempt > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "[%s %d]\n", s, attempt)
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "[%s]\n", s)
			}
		}
	}

	res, err := rt.dispatcher.Run(cmd.Context(), req)
	if err != nil {
		return errors.New(dispatch.FormatError(err))
	}

	switch res.Kind {
	case dispatch.OutputMarkup:
		fmt.Fprintln(out, res.DataURL)
	default:
		fmt.Fprint(out, res.Text)
		if !strings.HasSuffix(res.Text, "\n") {
			fmt.Fprintln(out)
		}
	}
	return nil
}
