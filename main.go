package main

import (
	"log"

	"github.com/SergeiSkv/pictofix/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
