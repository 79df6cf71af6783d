package main

import "josephlewis.net/gosh/cmd"

func main() {
	cmd.Execute()
}
