package main

import (
	"os"

	"github.com/hashitfit/coach/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
