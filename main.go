package main

import "github.com/brensch/marcreport/cmd"

func main() {
	cmd.Execute()
}
