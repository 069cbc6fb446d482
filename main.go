package main

import "github.com/photoevent/facematch/cmd"

func main() {
	cmd.Execute()
}
