package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		fields   map[string]string
		expected string
	}{
		{
			name:     "substitutes all placeholders",
			content:  "Hi {{name}}, event is {{event}}",
			fields:   map[string]string{"name": "Ana", "event": "Gala"},
			expected: "Hi Ana, event is Gala",
		},
		{
			name:     "missing field resolves to empty string",
			content:  "Hi {{name}}",
			fields:   map[string]string{},
			expected: "Hi ",
		},
		{
			name:     "nil fields",
			content:  "Hi {{name}}",
			fields:   nil,
			expected: "Hi ",
		},
		{
			name:     "repeated placeholder",
			content:  "{{name}} and {{name}}",
			fields:   map[string]string{"name": "Ana"},
			expected: "Ana and Ana",
		},
		{
			name:     "whitespace inside braces",
			content:  "Hi {{ name }}",
			fields:   map[string]string{"name": "Ana"},
			expected: "Hi Ana",
		},
		{
			name:     "key matching is case sensitive",
			content:  "Hi {{Name}}",
			fields:   map[string]string{"name": "Ana"},
			expected: "Hi ",
		},
		{
			name:     "no placeholders",
			content:  "plain text",
			fields:   map[string]string{"name": "Ana"},
			expected: "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Render(tt.content, tt.fields))
		})
	}
}

func TestRenderIsPure(t *testing.T) {
	fields := map[string]string{"name": "Ana"}
	first := Render("Hi {{name}}", fields)
	second := Render("Hi {{name}}", fields)
	assert.Equal(t, first, second)
	assert.Equal(t, map[string]string{"name": "Ana"}, fields)
}

func TestPlaceholders(t *testing.T) {
	names := Placeholders("Hi {{name}}, {{event}} starts at {{time}}. See you, {{name}}!")
	assert.Equal(t, []string{"name", "event", "time"}, names)

	assert.Nil(t, Placeholders("no tokens here"))
}
