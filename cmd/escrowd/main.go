package main

import "escrow-engine/internal/cli"

func main() {
	cli.Execute()
}
