package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alanmeadows/scribe/internal/cli"
	"github.com/alanmeadows/scribe/internal/server"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		switch {
		case errors.Is(err, server.ErrBind):
			os.Exit(2)
		case errors.Is(err, cli.ErrStore):
			os.Exit(3)
		default:
			os.Exit(1)
		}
	}
}
