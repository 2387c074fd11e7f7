package main

import (
	"os"

	"github.com/djcrm/crm/internal/cli"
	"github.com/djcrm/crm/pkg/logger"
)

func main() {
	logger.SetOutput(os.Stderr)
	if err := cli.Execute(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}
