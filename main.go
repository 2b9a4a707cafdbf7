package main

import (
	"log"

	"github.com/acgntube/coverd/cmd"
	"github.com/acgntube/coverd/config"
)

func main() {
	log.Printf("coverd %s", config.BuildString())
	cmd.Execute()
}
