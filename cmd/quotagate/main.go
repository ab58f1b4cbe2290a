// Command quotagate inspects and exercises the rate-limit engine: print the
// configured limits, run the admin server, simulate a batch against a
// service, or send one rate-limited completion.
package main

import (
	"fmt"
	"os"
)

// Version information set via ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	a := &app{
		out:     os.Stdout,
		errOut:  os.Stderr,
		version: version,
		commit:  commit,
	}
	if err := newRootCmd(a).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
