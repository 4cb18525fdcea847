package main

import "respiration-qa/internal/cli"

func main() {
	cli.Execute()
}
