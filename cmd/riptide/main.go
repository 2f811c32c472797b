package main

import "github.com/riptide-dl/riptide/cmd"

func main() {
	cmd.Execute()
}
