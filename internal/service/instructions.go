package service

import (
	"fmt"
	"strings"

	"github.com/fastmcp-gateway/fastmcp-gateway/internal/domain/registry"
)

const instructionsPreamble = "You have access to a tool discovery gateway with 4 tools:\n" +
	"1. discover_tools - Browse available tools. Call with no arguments to see domains, " +
	"or with a domain to see specific tools.\n" +
	"2. get_tool_schema - Get a tool's parameter schema before using it.\n" +
	"3. execute_tool - Run any discovered tool.\n" +
	"4. refresh_registry - Re-sync the registry with the upstream servers.\n" +
	"Workflow: discover_tools -> get_tool_schema -> execute_tool. " +
	"Skip discovery for tools you've already used in this conversation."

// buildInstructions renders the handshake instructions from the populated
// registry: the workflow preamble plus one line per domain.
func buildInstructions(reg *registry.Registry) string {
	var b strings.Builder
	b.WriteString(instructionsPreamble)

	infos := reg.ListDomains()
	if len(infos) > 0 {
		b.WriteString("\n\nAvailable domains:")
		for _, info := range infos {
			fmt.Fprintf(&b, "\n- %s (%d tools)", info.Name, info.ToolCount)
			if info.Description != "" {
				b.WriteString(": " + info.Description)
			}
		}
	}
	return b.String()
}
