package main

import (
	"os"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/cmd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
