package main

import "packstash/internal/cli"

func main() {
	cli.Execute()
}
