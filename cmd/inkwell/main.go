// inkwell is the narrative engine server: hybrid retrieval over a
// project's memory plus the agent pipeline that writes chapters with it.
package main

import (
	"fmt"
	"os"

	"github.com/inkwell-ai/inkwell/cmd/inkwell/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
