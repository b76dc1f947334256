package main

import "retrace/internal/cli"

func main() {
	cli.Execute()
}
