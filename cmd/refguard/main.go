package main

import "github.com/aweris/refguard/cmd/refguard/cmd"

func main() {
	cmd.Execute()
}
