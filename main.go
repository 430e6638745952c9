package main

import "rhythm/cmd"

func main() {
	cmd.Execute()
}
