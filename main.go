package main

import (
	"log"

	"github.com/telebroad/ftpserver/cmd"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cmd.RegisterFlags()

	if err := cmd.Execute(Version); err != nil {
		log.Fatalf("%v", err)
	}
}
