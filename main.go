package main

import "github.com/linder3hs/livegate/cmd"

func main() {
	cmd.Execute()
}
