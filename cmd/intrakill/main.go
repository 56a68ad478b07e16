// Package main - intrakill encrypted media vault CLI
package main

import (
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
)

func main() {
	log.SetHandler(cli.New(os.Stderr))

	if err := newRootCmd(newApp(os.Stdout, os.Stdin)).Execute(); err != nil {
		os.Exit(1)
	}
}
