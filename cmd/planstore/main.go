package main

import (
	"os"

	"planstore/cmd/planstore/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:], os.Stdout, os.Stderr, nil))
}
