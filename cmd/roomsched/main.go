package main

import "github.com/example/room-scheduler/cmd"

func main() {
	cmd.Execute()
}
