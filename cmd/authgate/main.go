package main

import "github.com/ftmatch/authgate/cmd/authgate/cmd"

func main() {
	cmd.Execute()
}
