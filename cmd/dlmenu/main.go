package main

import (
	"fmt"
	"os"

	"github.com/ResistanceIsUseless/disneyland-menu/cmd/dlmenu/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
