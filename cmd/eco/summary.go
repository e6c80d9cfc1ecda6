package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"

	coreerrors "github.com/TemporalDynamics/verifysign-sub002/core/errors"
	"github.com/TemporalDynamics/verifysign-sub002/core/ecox"
	"github.com/TemporalDynamics/verifysign-sub002/core/fsx"
)

type summaryOutput struct {
	OK      bool            `json:"ok"`
	Source  string          `json:"source,omitempty"`
	Path    string          `json:"path,omitempty"`
	Summary json.RawMessage `json:"summary,omitempty"`
	errorFields
}

func runSummary(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Derive the shareable public summary of a manifest. Archives are verified first; the summary carries the source signature and is never re-signed.")
	}
	flagSet := pflag.NewFlagSet("summary", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var keyFlags verifyKeyFlags
	var manifestPath string
	var sourceSignature string
	var outPath string
	var configPath string
	var logLevel string
	var jsonOutput bool
	var helpFlag bool

	keyFlags.register(flagSet)
	flagSet.StringVar(&manifestPath, "manifest", "", "summarize an unpacked manifest or project JSON instead of an archive")
	flagSet.StringVar(&sourceSignature, "source-signature", "", "signature to anchor a --manifest summary to (default: its first signature)")
	flagSet.StringVar(&outPath, "out", "", "write the summary to this path")
	flagSet.StringVar(&configPath, "config", "", "project config path (default .eco/config.yaml)")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVarP(&helpFlag, "help", "h", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeSummaryOutput(jsonOutput, summaryOutput{errorFields: classify(invalidInput(err.Error()))}, exitInvalidInput)
	}
	if helpFlag {
		printSummaryUsage()
		return exitOK
	}
	remaining := flagSet.Args()
	if (manifestPath == "") == (len(remaining) == 0) || len(remaining) > 1 {
		return writeSummaryOutput(jsonOutput, summaryOutput{errorFields: classify(invalidInput("expected one archive path or --manifest"))}, exitInvalidInput)
	}

	var (
		source  string
		summary string
		err     error
	)
	if manifestPath != "" {
		source = manifestPath
		summary, err = summarizeManifestFile(manifestPath, sourceSignature)
	} else {
		source = remaining[0]
		summary, err = summarizeArchive(source, keyFlags, configPath, logLevel)
	}
	if err != nil {
		return writeSummaryOutput(jsonOutput, summaryOutput{Source: source, errorFields: classify(err)}, exitCodeForError(err, exitVerifyFailed))
	}

	output := summaryOutput{OK: true, Source: source, Summary: json.RawMessage(summary)}
	if strings.TrimSpace(outPath) != "" {
		if err := fsx.WriteFileAtomic(outPath, []byte(summary+"\n"), 0o644); err != nil {
			err = coreerrors.Fatal(fmt.Errorf("write summary: %w", err), coreerrors.CategoryIOFailure, "write_failed", "check that the output directory is writable")
			return writeSummaryOutput(jsonOutput, summaryOutput{Source: source, errorFields: classify(err)}, exitInternalFailure)
		}
		output.Path = outPath
	}
	return writeSummaryOutput(jsonOutput, output, exitOK)
}

func summarizeArchive(path string, keyFlags verifyKeyFlags, configPath string, logLevel string) (string, error) {
	configuration, logger, err := commandSetup(configPath, logLevel)
	if err != nil {
		return "", coreerrors.Fatal(err, coreerrors.CategoryInvalidInput, "invalid_config", "fix the project config file")
	}
	options, err := keyFlags.unpackOptions(configuration, logger)
	if err != nil {
		return "", err
	}
	result, err := ecox.UnpackFile(path, options)
	if err != nil {
		return "", err
	}
	return ecox.ExtractPublicSummary(result.Manifest, result.Signature.Signature, time.Now())
}

// summarizeManifestFile summarizes JSON that has not been verified. The
// caller names the signature it trusts, or the first one present is used.
func summarizeManifestFile(path string, sourceSignature string) (string, error) {
	content, err := fsx.ReadFileLimited(path, maxProjectBytes)
	if err != nil {
		return "", coreerrors.Fatal(fmt.Errorf("read manifest: %w", err), coreerrors.CategoryIOFailure, "read_failed", "check the --manifest path")
	}
	var full map[string]any
	if err := decodeStrictJSON(content, &full); err != nil {
		return "", coreerrors.Fatal(fmt.Errorf("parse manifest: %w", err), coreerrors.CategoryFormatInvalid, "manifest_json", "the manifest must be a JSON object")
	}
	if sourceSignature == "" {
		sourceSignature = firstSignatureValue(full)
	}
	summary, err := ecox.ExtractPublicSummary(full, sourceSignature, time.Now())
	if err != nil {
		return "", coreerrors.Fatal(err, coreerrors.CategoryFormatInvalid, "manifest_json", "")
	}
	return summary, nil
}

func firstSignatureValue(full map[string]any) string {
	signatures, _ := full["signatures"].([]any)
	if len(signatures) == 0 {
		return ""
	}
	first, _ := signatures[0].(map[string]any)
	value, _ := first["signature"].(string)
	return value
}

func writeSummaryOutput(jsonOutput bool, output summaryOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.OK {
		fmt.Println(string(output.Summary))
		return exitCode
	}
	fmt.Printf("summary error: %s\n", output.Error)
	return exitCode
}

func printSummaryUsage() {
	fmt.Println("Usage:")
	fmt.Println("  eco summary <file.ecox> [--public-key <path>|--public-key-env <VAR>] [--expected-key-id <id>] [--out <summary.json>] [--json] [--explain]")
	fmt.Println("  eco summary --manifest <manifest.json> [--source-signature <base64>] [--out <summary.json>] [--json] [--explain]")
}
