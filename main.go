package main

import "github.com/calmora/tessera/cmd"

func main() {
	cmd.Execute()
}
