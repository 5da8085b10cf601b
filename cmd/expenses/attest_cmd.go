package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/nicolRB/LogWare/pkg/attest"
	"github.com/nicolRB/LogWare/pkg/report"
)

// runSignCmd implements `expenses sign`.
//
// Reads an approved report, generates a fresh key pair, signs the canonical
// payload and prints the attestation. The private key never leaves the
// process.
func runSignCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sign", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		reportPath string
		alg        string
		outPath    string
	)

	cmd.StringVar(&reportPath, "report", "", "Path to the approved report JSON (REQUIRED)")
	cmd.StringVar(&alg, "alg", string(attest.RS256), "Signature algorithm: RS256 or ES256")
	cmd.StringVar(&outPath, "out", "", "Write the attestation to this file instead of stdout")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if reportPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --report is required")
		cmd.Usage()
		return 2
	}

	algorithm, err := attest.ParseAlgorithm(alg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	r, err := readReport(reportPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	signer, err := attest.GenerateKey(algorithm)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	a, err := signer.Attest(r)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	data, _ := json.MarshalIndent(a, "", "  ")
	if outPath != "" {
		if err := os.WriteFile(outPath, append(data, '\n'), 0o600); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: cannot write attestation: %v\n", err)
			return 2
		}
		_, _ = fmt.Fprintf(stdout, "Attestation for report %s written to %s\n", r.ID, outPath)
		return 0
	}
	_, _ = fmt.Fprintln(stdout, string(data))
	return 0
}

// runVerifyCmd implements `expenses verify`.
//
// Exit codes:
//
//	0 = signature valid
//	1 = signature invalid
//	2 = input could not be verified
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		reportPath string
		bundlePath string
		jsonOutput bool
	)

	cmd.StringVar(&reportPath, "report", "", "Path to a signed report JSON")
	cmd.StringVar(&bundlePath, "bundle", "", "Path to an evidence bundle JSON")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if (reportPath == "") == (bundlePath == "") {
		_, _ = fmt.Fprintln(stderr, "Error: exactly one of --report or --bundle is required")
		cmd.Usage()
		return 2
	}

	var (
		res    attest.Result
		err    error
		source = reportPath
	)
	if reportPath != "" {
		var r report.Report
		r, err = readReport(reportPath)
		if err == nil {
			res, err = attest.Verify(r)
		}
	} else {
		source = bundlePath
		var data []byte
		data, err = os.ReadFile(bundlePath)
		if err == nil {
			var b attest.Bundle
			b, err = attest.DecodeBundle(data)
			if err == nil {
				res, err = attest.VerifyBundle(b)
			}
		}
	}

	if err != nil {
		if jsonOutput {
			out := map[string]any{"source": source, "valid": false, "error": err.Error()}
			var verr *attest.VerificationError
			if errors.As(err, &verr) {
				out["kind"] = verr.Kind
			}
			data, _ := json.MarshalIndent(out, "", "  ")
			_, _ = fmt.Fprintln(stdout, string(data))
		} else {
			_, _ = fmt.Fprintf(stderr, "Error: cannot verify %s: %v\n", source, err)
		}
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(res, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if res.Valid {
		_, _ = fmt.Fprintf(stdout, "%sVALID%s report %s (%s)\n", ColorGreen, ColorReset, res.ReportID, res.Algorithm)
	} else {
		_, _ = fmt.Fprintf(stdout, "%sINVALID%s report %s: %s\n", ColorRed, ColorReset, res.ReportID, res.Reason)
	}

	if !res.Valid {
		return 1
	}
	return 0
}

func readReport(path string) (report.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return report.Report{}, err
	}
	var r report.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return report.Report{}, fmt.Errorf("%s is not a report: %w", path, err)
	}
	st, err := report.ParseStatus(string(r.Status))
	if err != nil {
		return report.Report{}, err
	}
	r.Status = st
	return r, nil
}
