package main

import "github.com/aifriendshub/agenthub/cmd"

func main() {
	cmd.Execute()
}
