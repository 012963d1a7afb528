package main

import "github.com/farmasearch/farmasearch/cmd"

func main() {
	cmd.Execute()
}
