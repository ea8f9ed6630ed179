package main

import "webmail/internal/cli"

func main() {
	cli.Execute()
}
