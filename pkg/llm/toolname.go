package llm

import (
	"fmt"
	"regexp"
	"strings"
)

// toolNameRegex validates the canonical "server.tool" format. Both parts
// must start with a word character and contain only word characters and
// hyphens.
var toolNameRegex = regexp.MustCompile(`^([\w][\w-]*)\.([\w][\w-]*)$`)

// JoinToolName builds the canonical "server.tool" name.
func JoinToolName(serverID, toolName string) string {
	return serverID + "." + toolName
}

// SplitToolName splits "server.tool" into (serverID, toolName, error).
func SplitToolName(name string) (serverID, toolName string, err error) {
	matches := toolNameRegex.FindStringSubmatch(name)
	if matches == nil {
		return "", "", fmt.Errorf(
			"invalid tool name %q: must be in 'server.tool' format "+
				"(e.g., 'kubernetes-server.get_pods')", name)
	}
	return matches[1], matches[2], nil
}

// EncodeFunctionName converts a canonical "server.tool" name into the
// "server__tool" form accepted by provider function-name restrictions
// (no dots in OpenAI and Bedrock function names).
func EncodeFunctionName(name string) string {
	return strings.Replace(name, ".", "__", 1)
}

// NormalizeToolName converts a provider-encoded "server__tool" function
// name back to the canonical "server.tool" routing form. Canonical names
// pass through unchanged.
func NormalizeToolName(name string) string {
	if strings.Contains(name, "__") && !strings.Contains(name, ".") {
		return strings.Replace(name, "__", ".", 1)
	}
	return name
}
