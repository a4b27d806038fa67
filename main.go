package main

import "github.com/Far3/financial-advisor-ai/cmd"

func main() {
	cmd.Execute()
}
