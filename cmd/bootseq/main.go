// Package main is the entry point for the RM01 boot sequencer.
package main

func main() {
	Execute()
}
