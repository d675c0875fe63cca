package main

import "github.com/kiesman99/slicer/cmd"

func main() {
	cmd.Execute()
}
