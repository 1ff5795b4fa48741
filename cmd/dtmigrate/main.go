package main

import (
	"os"

	"github.com/hashicorp-forge/dtmigrate/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
