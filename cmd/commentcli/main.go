package main

import "github.com/UkralStul/threaded-comments/cmd/commentcli/command"

func main() {
	command.Execute()
}
