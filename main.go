package main

import "github.com/paulpham157/ii-agent/cmd"

func main() {
	cmd.Execute()
}
