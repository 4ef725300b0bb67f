package main

import (
	"os"

	"example.com/backstage/services/auction/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
