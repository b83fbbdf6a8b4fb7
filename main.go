package main

import (
	"os"

	"snapportal/src/cli"
)

func main() {
	os.Exit(cli.Execute())
}
