package main

import "github.com/theirongolddev/creditwatch/cmd"

func main() {
	cmd.Execute()
}
