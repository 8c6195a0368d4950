package main

import (
	"github.com/Paintersrp/procdock/internal/cli"
	"github.com/Paintersrp/procdock/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
