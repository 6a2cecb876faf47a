package main

import "whereabouts-backend/cmd"

func main() {
	cmd.Execute()
}
