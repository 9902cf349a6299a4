package main

import "lestnet-sdk/internal/cli"

func main() {
	cli.Execute()
}
