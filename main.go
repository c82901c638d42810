package main

import (
	"github.com/alecthomas/kong"
	"github.com/arnavsurve/stepwright/cmd/cli"
)

var CLI struct {
	Run  cli.RunCmd  `cmd:"" help:"Run an automation in a browser."`
	Lint cli.LintCmd `cmd:"" help:"Validate an automation and, optionally, its inputs."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("stepwright"),
		kong.Description("Execute declarative browser automations."),
		kong.UsageOnError(),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
