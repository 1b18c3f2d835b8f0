// pqpgen - Peptide spectral library generator
package main

import (
	"fmt"
	"os"

	"pqpgen/cmd/pqpgen/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
