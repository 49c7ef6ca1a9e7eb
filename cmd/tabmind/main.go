package main

import "github.com/quinn/tabmind/cmd/tabmind/commands"

func main() {
	commands.Execute()
}
