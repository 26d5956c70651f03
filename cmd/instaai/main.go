package main

import "github.com/SerOes/instaai-sub001/cmd/cli"

func main() {
	cli.Execute()
}
