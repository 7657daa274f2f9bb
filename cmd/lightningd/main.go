package main

import (
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/hashplex/lightningd/daemon"
)

func main() {
	// Call the "real" main in a nested manner so deferred cleanup in
	// daemon.Main still runs even if something downstream calls os.Exit.
	if err := daemon.Main(os.Args); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
