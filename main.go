package main

import (
	"VizFM/cmd"
)

func main() {
	cmd.Execute()
}
