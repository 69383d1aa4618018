package main

import (
	"github.com/ethsim/tx-simulator/cmd"
)

func main() {
	cmd.Execute()
}
