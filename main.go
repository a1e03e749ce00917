package main

import (
	"github.com/drivetune/drivetune/cmd"
)

func main() {
	cmd.Execute()
}
