package main

import "github.com/zhiyuan411/public-share/cmd/sharectl/commands"

func main() {
	commands.Execute()
}
