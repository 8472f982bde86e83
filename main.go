package main

import "github.com/nextlevelbuilder/taskbridge/cmd"

func main() {
	cmd.Execute()
}
