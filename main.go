package main

import "github.com/moyoez/readersync/cmd"

func main() {
	cmd.Execute()
}
