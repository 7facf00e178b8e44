// # cmd/supravault/main.go
package main

import (
	"os"
	"supravault/internal/ui/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
