// Command xrsim runs the emulated XR device runtime.
package main

import (
	"fmt"
	"os"

	"github.com/wem-technology/ios-webxr-sub000/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
