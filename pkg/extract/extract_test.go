package extract_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/okral/codechat/internal/models"
	"github.com/okral/codechat/pkg/extract"
)

func TestText_PlainSource(t *testing.T) {
	code := "package main\n\nfunc main() {}\n"

	text, err := extract.Text([]byte(code), "main.go")

	require.NoError(t, err)
	assert.Equal(t, code, text)
}

func TestText_Empty(t *testing.T) {
	_, err := extract.Text([]byte("  \n "), "empty.py")

	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestText_Binary(t *testing.T) {
	_, err := extract.Text([]byte{0x7f, 'E', 'L', 'F', 0x00, 0x01}, "a.out")

	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestText_InvalidUTF8(t *testing.T) {
	_, err := extract.Text([]byte{'h', 'i', 0xff, 0xfe}, "weird.txt")

	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestText_HTML(t *testing.T) {
	markup := `<html><head><style>p { color: red }</style></head>
<body><h1>Docs</h1><p>The parser reads tokens.</p><script>alert(1)</script></body></html>`

	text, err := extract.Text([]byte(markup), "docs.html")

	require.NoError(t, err)
	assert.Contains(t, text, "The parser reads tokens.")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "color: red")
}

func TestText_HTMLWithoutText(t *testing.T) {
	_, err := extract.Text([]byte("<html><body><script>x()</script></body></html>"), "empty.html")

	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}
