package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestVisibleText(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		maxLength int
		want      string
		truncated bool
	}{
		{
			name: "drops script and style",
			input: `<html><head><title>T</title><style>body{}</style></head>
				<body><h1>Bill   Summary</h1><script>track()</script><p>Amount due
				$42.10</p></body></html>`,
			maxLength: 1000,
			want:      "Bill Summary Amount due $42.10",
		},
		{
			name:      "truncates",
			input:     `<body><p>abcdefghij</p></body>`,
			maxLength: 4,
			want:      "abcd...",
			truncated: true,
		},
		{
			name:      "no limit",
			input:     `<body><!-- hidden --><span>a</span><span>b</span></body>`,
			maxLength: 0,
			want:      "a b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := html.Parse(strings.NewReader(tt.input))
			require.NoError(t, err)

			got, truncated := VisibleText(doc, tt.maxLength)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.truncated, truncated)
		})
	}
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "Sep 2024 Statement $85.00", NormalizeText("  Sep 2024\n\tStatement   $85.00 "))
}
