// Package main implements the filecheck probe plugin for groundcrew.
// It answers whether a file exists and, optionally, whether it contains
// a marker string. Build it as a WASI module:
//
//	GOOS=wasip1 GOARCH=wasm go build -o filecheck.wasm .
//
// and reference it from a manifest probe:
//
//	probe: {type: "wasm", module: "plugins/filecheck.wasm", args: [".venv/pyvenv.cfg", "version = 3.12"]}
package main

import (
	"fmt"
	"os"
	"strings"
)

// Probe plugin exit contract: 0 means the desired state exists, 1 means
// it does not, anything else is a probe error whose stderr is shown to
// the operator.
const (
	exitSatisfied   = 0
	exitUnsatisfied = 1
	exitError       = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(os.Stderr, "usage: filecheck <path> [marker]")
		return exitError
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		if os.IsNotExist(err) {
			return exitUnsatisfied
		}
		fmt.Fprintf(os.Stderr, "read %s: %v\n", args[0], err)
		return exitError
	}

	if len(args) == 2 && !strings.Contains(string(data), args[1]) {
		return exitUnsatisfied
	}
	return exitSatisfied
}
