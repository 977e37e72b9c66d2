// The main package for the auto-ria-downloader executable.
package main

import (
	"github.com/eldlit/auto-ria-downloader/cmd"
)

func main() {
	cmd.Execute()
}
