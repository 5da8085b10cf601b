package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nicolRB/LogWare/pkg/audit"
	"github.com/nicolRB/LogWare/pkg/config"
)

// runAuditCmd implements `expenses audit <verify|export>` over the JSONL
// audit chain the server writes under DATA_DIR.
func runAuditCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: expenses audit <verify|export> [--file path]")
		return 2
	}
	switch args[0] {
	case "verify":
		return runAuditVerify(args[1:], stdout, stderr)
	case "export":
		return runAuditExport(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown audit subcommand: %s\n", args[0])
		return 2
	}
}

func defaultAuditFile() string {
	return filepath.Join(config.Load().DataDir, "audit.jsonl")
}

func loadAuditFile(path string) (*audit.Chain, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return audit.LoadChain(f, nil)
}

func runAuditVerify(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		path       string
		jsonOutput bool
	)
	cmd.StringVar(&path, "file", defaultAuditFile(), "Path to the audit chain JSONL file")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	chain, err := loadAuditFile(path)
	if os.IsNotExist(err) {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if jsonOutput {
		out := map[string]any{"file": path, "valid": err == nil}
		if err != nil {
			out["error"] = err.Error()
		} else {
			out["entries"] = chain.Len()
			out["head"] = chain.Head()
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if err != nil {
		_, _ = fmt.Fprintf(stdout, "%sBROKEN%s %s: %v\n", ColorRed, ColorReset, path, err)
	} else {
		_, _ = fmt.Fprintf(stdout, "%sINTACT%s %s: %d entries, head %s\n", ColorGreen, ColorReset, path, chain.Len(), chain.Head())
	}
	if err != nil {
		return 1
	}
	return 0
}

func runAuditExport(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		path     string
		reportID string
		outPath  string
	)
	cmd.StringVar(&path, "file", defaultAuditFile(), "Path to the audit chain JSONL file")
	cmd.StringVar(&reportID, "report", "", "Only export entries of this report")
	cmd.StringVar(&outPath, "out", "", "Output path for the zip pack (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if outPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --out is required")
		cmd.Usage()
		return 2
	}

	chain, err := loadAuditFile(path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	pack, checksum, err := audit.NewExporter(chain).GeneratePack(context.Background(), reportID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := os.WriteFile(outPath, pack, 0o600); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "Audit pack written to %s (sha256 %s)\n", outPath, checksum)
	return 0
}
