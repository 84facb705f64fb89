package main

import "github.com/oop/memory-store/build-tools/cmd"

func main() {
	cmd.Execute()
}
