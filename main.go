package main

import "localsync/cmd"

func main() {
	cmd.Execute()
}
