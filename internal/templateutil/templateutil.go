package templateutil

import (
	"fmt"
	"regexp"
	"strings"
)

// ParameterPattern matches positional template parameters like {{1}}, {{2}}
var ParameterPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// ExtractParamNames extracts parameter names from template content in
// order of first occurrence, without duplicates.
func ExtractParamNames(content string) []string {
	matches := ParameterPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var names []string
	for _, match := range matches {
		if len(match) > 1 {
			name := strings.TrimSpace(match[1])
			if name != "" && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// CountVariables returns the number of distinct variables in content.
func CountVariables(content string) int {
	return len(ExtractParamNames(content))
}

// ResolveParams resolves parameters to ordered values using a
// map[string]interface{} parameter source keyed by name or 1-indexed
// position.
func ResolveParams(content string, params map[string]interface{}) []string {
	paramNames := ExtractParamNames(content)
	if len(paramNames) == 0 {
		return nil
	}

	result := make([]string, len(paramNames))
	for i, name := range paramNames {
		if val, ok := params[name]; ok {
			result[i] = fmt.Sprintf("%v", val)
			continue
		}
		key := fmt.Sprintf("%d", i+1)
		if val, ok := params[key]; ok {
			result[i] = fmt.Sprintf("%v", val)
			continue
		}
		result[i] = ""
	}
	return result
}

// Fill replaces placeholders in content with the ordered values,
// matching each distinct variable by its position of first occurrence.
func Fill(content string, values []string) string {
	paramNames := ExtractParamNames(content)
	for i, name := range paramNames {
		if i >= len(values) {
			break
		}
		content = strings.ReplaceAll(content, fmt.Sprintf("{{%s}}", name), values[i])
	}
	return content
}
