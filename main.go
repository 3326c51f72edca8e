package main

import "design-ai/cmd"

func main() {
	cmd.Execute()
}
