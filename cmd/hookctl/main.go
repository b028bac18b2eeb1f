package main

import (
	"log"

	"github.com/caseyvance/webhookrelay/cmd/hookctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
