// The main package for the legifetch executable.
package main

import (
	"github.com/JakeFAU/legifetch/cmd"
)

func main() {
	cmd.Execute()
}
