package main

import "github.com/vietdv277/netlab/cmd"

func main() {
	cmd.Execute()
}
