package main

import "github.com/devicelab-dev/webtest-runner/pkg/cli"

func main() {
	cli.Execute()
}
