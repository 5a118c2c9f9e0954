// Command fusionrec inspects and serves multi-sensor fusion records.
package main

import (
	"os"

	"github.com/banshee-data/fusion.record/cmd/fusionrec/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
