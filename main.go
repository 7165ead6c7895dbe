package main

import "github.com/mitmrw/mitmrw/cmd"

func main() {
	cmd.Execute()
}
