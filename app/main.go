package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"
)

func main() {
	p := newParser(os.Stdin, os.Stdout)

	if _, err := p.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				return
			}
			os.Exit(2)
		}
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
