// The main package for the social-ingest executable.
package main

import (
	"github.com/sociallens/social-ingest/cmd"
)

func main() {
	cmd.Execute()
}
