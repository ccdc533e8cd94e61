// The main package for the ragcrawler executable.
package main

import (
	"github.com/usyd/webcrawler-rag/cmd"
)

func main() {
	cmd.Execute()
}
