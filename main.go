package main

import "github.com/dhcgn/mbox-index/cmd"

func main() {
	cmd.Execute()
}
