// The main package for the racecrawler executable.
package main

import (
	"github.com/JakeFAU/racing-crawler/cmd"
)

func main() {
	cmd.Execute()
}
