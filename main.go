package main

import "churnguard/cmd/cli"

func main() {
	cli.Execute()
}
