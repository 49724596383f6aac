package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		if !IsPrintedError(err) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}
