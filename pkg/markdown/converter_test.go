package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToTelegramHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain text", "hello world", "hello world"},
		{"bold", "**bold**", "<b>bold</b>"},
		{"italic", "*italic*", "<i>italic</i>"},
		{"inline code", "use `go vet`", "use <code>go vet</code>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToTelegramHTML(tt.in))
		})
	}
}

func TestToTelegramHTMLListBullets(t *testing.T) {
	out := ToTelegramHTML("- one\n- two")
	assert.Contains(t, out, "• one")
	assert.Contains(t, out, "• two")
	assert.NotContains(t, out, "<li>")
	assert.NotContains(t, out, "<ul>")
}

func TestToTelegramHTMLStripsUnsupportedTags(t *testing.T) {
	out := ToTelegramHTML("# Heading\n\nbody")
	assert.NotContains(t, out, "<h1>")
	assert.Contains(t, out, "Heading")
	assert.Contains(t, out, "body")
}

func TestToTelegramHTMLCodeBlock(t *testing.T) {
	out := ToTelegramHTML("```go\nfmt.Println(1)\n```")
	assert.Contains(t, out, "<pre>")
	assert.NotContains(t, out, "<code class=")
}
