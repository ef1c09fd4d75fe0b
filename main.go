package main

import "replayq/cmd"

func main() {
	cmd.Execute()
}
