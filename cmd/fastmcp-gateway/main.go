package main

import "github.com/fastmcp-gateway/fastmcp-gateway/cmd/fastmcp-gateway/cmd"

func main() {
	cmd.Execute()
}
