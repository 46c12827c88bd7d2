package main

import (
	"log"

	"github.com/wfunc/seatkeeper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
