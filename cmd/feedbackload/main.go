package main

import (
	"os"

	"github.com/wesleyorama2/feedbackload/internal/cli"
)

// Main is the entry point for the application.
// It's exported to make it testable.
func Main() int {
	return cli.Execute(os.Args[1:])
}

func main() {
	os.Exit(Main())
}
