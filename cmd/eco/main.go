package main

import (
	"fmt"
	"os"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

func main() {
	os.Exit(run(os.Args))
}

func run(arguments []string) int {
	if len(arguments) < 2 {
		fmt.Println("eco", version)
		return exitOK
	}
	if arguments[1] == "--explain" {
		return writeExplain("eco packs video editing projects into signed .ecox manifests and verifies them offline.")
	}

	switch arguments[1] {
	case "keys":
		return runKeys(arguments[2:])
	case "hash":
		return runHash(arguments[2:])
	case "pack":
		return runPack(arguments[2:])
	case "verify":
		return runVerify(arguments[2:])
	case "summary":
		return runSummary(arguments[2:])
	case "version", "--version", "-v":
		if hasExplainFlag(arguments[2:]) {
			return writeExplain("Print the CLI version.")
		}
		fmt.Println("eco", version)
		return exitOK
	case "help", "--help", "-h":
		printUsage()
		return exitOK
	default:
		printUsage()
		return exitInvalidInput
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  eco keys init [--out-dir .eco/keys] [--prefix eco] [--force] [--passphrase-env <VAR>] [--json]")
	fmt.Println("  eco hash <file>... [--json]")
	fmt.Println("  eco pack --project <project.json> (--hashes <hashes.json>|--asset-dir <dir>) --out <file.ecox> [--key-id <id>] [--private-key <path>|--private-key-env <VAR>] [--json]")
	fmt.Println("  eco verify <file.ecox> [--public-key <path>|--public-key-env <VAR>] [--expected-key-id <id>] [--asset-dir <dir>] [--json]")
	fmt.Println("  eco summary (<file.ecox>|--manifest <manifest.json>) [--public-key <path>] [--out <summary.json>] [--json]")
	fmt.Println("  eco version")
}
