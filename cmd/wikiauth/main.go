package main

import "github.com/iKora128/medical-wiki/cmd/wikiauth/cmd"

func main() {
	cmd.Execute()
}
