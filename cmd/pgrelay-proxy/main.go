package main

import (
	"github.com/pgrelay-io/pgrelay-proxy/cmd/pgrelay-proxy/cli"
)

func main() {
	cli.InitAndExecute()
}
