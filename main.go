package main

import (
	"MusicFlow/cmd"
)

func main() {
	cmd.Execute()
}
