package main

import (
	"fmt"
	"os"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/cli"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := cli.Execute(Version); err != nil {
		fmt.Fprintln(os.Stderr, "fleetql:", err)
		os.Exit(1)
	}
}
