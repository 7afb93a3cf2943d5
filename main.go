package main

import "github.com/kozaktomas/cin-capture/cmd"

func main() {
	cmd.Execute()
}
