// The main package for the webdiff executable.
package main

import (
	"github.com/trychlos/TheToolsProject-sub002/cmd"
)

func main() {
	cmd.Execute()
}
