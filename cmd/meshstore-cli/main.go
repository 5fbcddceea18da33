package main

import (
	"fmt"
	"os"

	"github.com/yndnr/meshstore/internal/cli/command"
)

func main() {
	app := command.App()
	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
