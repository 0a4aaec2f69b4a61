// The main package for the spider executable.
package main

import (
	"github.com/JakeFAU/data-spider/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
