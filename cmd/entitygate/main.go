// Package main is the entry point for entitygate.
package main

func main() {
	Execute()
}
