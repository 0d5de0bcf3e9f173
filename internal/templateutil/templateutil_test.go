package templateutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractParamNames(t *testing.T) {
	names := ExtractParamNames("Hello {{1}}, your order {{2}} ships {{1}}")
	assert.Equal(t, []string{"1", "2"}, names)

	assert.Nil(t, ExtractParamNames("No params here"))
	assert.Equal(t, []string{"name", "city"}, ExtractParamNames("Hi {{name}} from {{ city }}"))
}

func TestCountVariables(t *testing.T) {
	assert.Equal(t, 0, CountVariables("plain text"))
	assert.Equal(t, 2, CountVariables("{{1}} and {{2}}"))
	assert.Equal(t, 1, CountVariables("{{1}} again {{1}}"))
}

func TestResolveParams(t *testing.T) {
	content := "Hello {{1}}, welcome to {{2}}"

	values := ResolveParams(content, map[string]interface{}{"1": "Asha", "2": "Waveline"})
	assert.Equal(t, []string{"Asha", "Waveline"}, values)

	// Missing params resolve to empty strings
	values = ResolveParams(content, map[string]interface{}{"1": "Asha"})
	assert.Equal(t, []string{"Asha", ""}, values)

	// Named params resolve by name before position
	values = ResolveParams("Hi {{name}}", map[string]interface{}{"name": "Ravi"})
	assert.Equal(t, []string{"Ravi"}, values)

	assert.Nil(t, ResolveParams("no params", map[string]interface{}{"1": "x"}))
}

func TestFill(t *testing.T) {
	out := Fill("Hello {{1}}, your code is {{2}}", []string{"Asha", "9912"})
	assert.Equal(t, "Hello Asha, your code is 9912", out)

	// Repeated variables all get the same value
	out = Fill("{{1}} and {{1}} again", []string{"x"})
	assert.Equal(t, "x and x again", out)

	// Short value slice leaves trailing placeholders untouched
	out = Fill("{{1}} {{2}}", []string{"a"})
	assert.Equal(t, "a {{2}}", out)
}
