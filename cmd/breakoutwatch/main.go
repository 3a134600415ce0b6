package main

import "breakout-failures/internal/cli"

func main() {
	cli.Execute()
}
