// Command coordctl inspects and operates a coordination cluster, through the
// ops API of a running node or directly on the shared store.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
