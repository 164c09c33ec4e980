package main

import "github.com/san-tian/miniclaw/cmd"

func main() {
	cmd.Execute()
}
