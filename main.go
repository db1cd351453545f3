// Package main is the entry point of the cve-mirror service.
package main

import "github.com/ortelius/cve-mirror/cmd"

func main() {
	cmd.Execute()
}
