// The main package for the wubwatch executable.
package main

import (
	"github.com/JakeFAU/wubwatch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
