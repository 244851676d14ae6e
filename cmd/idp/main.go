package main

import "github.com/pilab-dev/shadow-idp/cmd/idp/cmd"

func main() {
	cmd.Execute()
}
