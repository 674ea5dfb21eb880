package main

import "github.com/edvin/deviceca/cmd/deviceca/cmd"

func main() {
	cmd.Execute()
}
