package main

import "github.com/brensch/zipstage/cmd"

func main() {
	cmd.Execute()
}
