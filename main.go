package main

import "github.com/nobuild/nob/cmd"

func main() {
	cmd.Execute()
}
