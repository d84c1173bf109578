// Command coordd runs one coordination node: it joins the roster of the
// configured store, keeps the property cache in sync and serves the ops API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file (defaults and COORD_* env if empty)")
	flag.Parse()

	if err := run(context.Background(), *configPath, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "coordd: %v\n", err)
		os.Exit(1)
	}
}
