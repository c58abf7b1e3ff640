package main

import (
	_ "embed"
	"fmt"
	"os"
)

//go:embed local.yaml
var configFile []byte

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
