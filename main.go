// main.go
//
// Entry point; CLI handling lives in the Cobra commands under cmd/.

package main

import (
	"os"

	"github.com/sherine-k/simulated-city/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
