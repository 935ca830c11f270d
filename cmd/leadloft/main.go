package main

import "github.com/leadloft/leadloft/internal/cli"

func main() {
	cli.Execute()
}
