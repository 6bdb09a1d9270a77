package main

import "github.com/MeKo-Tech/platewatch/cmd/platewatch/cmd"

func main() {
	cmd.Execute()
}
