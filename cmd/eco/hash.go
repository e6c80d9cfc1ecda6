package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	coreerrors "github.com/TemporalDynamics/verifysign-sub002/core/errors"
	"github.com/TemporalDynamics/verifysign-sub002/core/sign"
)

type hashOutput struct {
	OK    bool       `json:"ok"`
	Files []fileHash `json:"files,omitempty"`
	errorFields
}

type fileHash struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

func runHash(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Print the lowercase hex SHA-256 of asset files, the form manifests record.")
	}
	flagSet := pflag.NewFlagSet("hash", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var jsonOutput bool
	var helpFlag bool
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVarP(&helpFlag, "help", "h", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeHashOutput(jsonOutput, hashOutput{errorFields: classify(invalidInput(err.Error()))}, exitInvalidInput)
	}
	if helpFlag {
		printHashUsage()
		return exitOK
	}
	paths := flagSet.Args()
	if len(paths) == 0 {
		return writeHashOutput(jsonOutput, hashOutput{errorFields: classify(invalidInput("at least one file is required"))}, exitInvalidInput)
	}

	output := hashOutput{OK: true, Files: make([]fileHash, 0, len(paths))}
	for _, path := range paths {
		digest, err := sign.SHA256HexFile(path)
		if err != nil {
			err = coreerrors.Fatal(fmt.Errorf("hash %s: %w", path, err), coreerrors.CategoryIOFailure, "read_failed", "check that the file exists and is readable")
			return writeHashOutput(jsonOutput, hashOutput{errorFields: classify(err)}, exitCodeForError(err, exitInternalFailure))
		}
		output.Files = append(output.Files, fileHash{Path: path, SHA256: digest})
	}
	return writeHashOutput(jsonOutput, output, exitOK)
}

func writeHashOutput(jsonOutput bool, output hashOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.OK {
		for _, file := range output.Files {
			fmt.Printf("%s  %s\n", file.SHA256, file.Path)
		}
		return exitCode
	}
	fmt.Printf("hash error: %s\n", output.Error)
	return exitCode
}

func printHashUsage() {
	fmt.Println("Usage:")
	fmt.Println("  eco hash <file>... [--json] [--explain]")
}
