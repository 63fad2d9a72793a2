// The main package for the shopcrawler executable.
package main

import (
	"github.com/pricepulse/shopcrawler/cmd"
)

func main() {
	cmd.Execute()
}
