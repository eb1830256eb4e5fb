package main

import (
	"log"

	"github.com/flotillaproject/flotilla/cmd/flotilla/cmd"
	"github.com/flotillaproject/flotilla/internal/common"
)

func main() {
	common.ConfigureLogging()
	root := cmd.RootCmd()
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
