// Command registry-check validates a test-descriptor table before it is
// deployed to a runner. Unlike the runner's loader, which rejects a bad
// table at the first structural error, this command walks the whole table
// and reports every error and suspicious entry it finds.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"bdqcore/internal/registry"
)

var exitFunc = os.Exit

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("registry-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		registryPath string
		strict       bool
	)
	fs.StringVar(&registryPath, "registry", "registry.csv", "path to the test-descriptor CSV")
	fs.BoolVar(&strict, "strict", false, "treat warnings as failures")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	report, err := checkFile(registryPath)
	if err != nil {
		if _, writeErr := fmt.Fprintf(stderr, "Registry validation failed: %v\n", err); writeErr != nil {
			return 1
		}
		return 1
	}
	printReport(stdout, report)
	if !report.OK() || (strict && len(report.Warnings) > 0) {
		if _, writeErr := fmt.Fprintln(stdout, "Registry validation failed."); writeErr != nil {
			return 1
		}
		return 1
	}
	if _, writeErr := fmt.Fprintln(stdout, "Registry validation passed."); writeErr != nil {
		return 1
	}
	return 0
}

func checkFile(path string) (report *registry.Report, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close registry: %w", cerr)
		}
	}()
	return registry.Check(file), nil
}

func printReport(w io.Writer, report *registry.Report) {
	fmt.Fprintf(w, "%d tests, %d errors, %d warnings\n", report.Tests, len(report.Errors), len(report.Warnings))
	for _, msg := range report.Errors {
		fmt.Fprintf(w, "error: %s\n", msg)
	}
	for _, msg := range report.Warnings {
		fmt.Fprintf(w, "warning: %s\n", msg)
	}
}
