package main

import (
	"fmt"
	"os"

	"github.com/leaanthony/clir"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cli := clir.NewCli("hookparse", "Parse source-control push webhooks into Hooks offline", version)
	cli.NewSubCommandFunction("parse", "Print the Hooks a webhook payload produces", parseCmd)
	cli.NewSubCommandFunction("detect", "Print the provider a webhook payload comes from", detectCmd)
	cli.NewSubCommandFunction("providers", "List the supported providers in detection order", providersCmd)
	return cli.Run(args...)
}
