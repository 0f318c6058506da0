// Command corpus is the entry point for the multi-collection RAG corpus
// engine. It ingests configured sources into per-tier vector collections
// and answers queries across them, from the CLI or over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/corpus-go/cmd/corpus/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
