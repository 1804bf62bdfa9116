package main

import "github.com/markuskont/sigmastream/cmd"

func main() {
	cmd.Execute()
}
