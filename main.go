package main

import "github.com/dayuer/askrelay/cmd"

func main() {
	cmd.Execute()
}
