// Package main is entrypoint for the application
package main

import "peercall/cmd"

func main() {
	cmd.Run()
}
