package main

import (
	"os"

	"github.com/hashicorp-forge/wopihost/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
