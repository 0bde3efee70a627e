package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nilszeilon/keystr/internal/cli"
)

func main() {
	cmd := cli.Root(cli.Options{})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "\n  ✗ %s\n\n", cli.FormatError(err))
		os.Exit(1)
	}
}
