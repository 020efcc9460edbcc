package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{
			name: "single part",
			raw: "From: a@x.com\r\n" +
				"Subject: hi\r\n" +
				"Content-Type: text/plain; charset=utf-8\r\n" +
				"\r\n" +
				"Hello there\r\n",
			expected: "Hello there",
		},
		{
			name: "no content type",
			raw: "From: a@x.com\r\n" +
				"Subject: hi\r\n" +
				"\r\n" +
				"Bare body\r\n",
			expected: "Bare body",
		},
		{
			name: "alternative prefers plain",
			raw: "From: a@x.com\r\n" +
				"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
				"\r\n" +
				"--XYZ\r\n" +
				"Content-Type: text/html\r\n" +
				"\r\n" +
				"<p>Rich</p>\r\n" +
				"--XYZ\r\n" +
				"Content-Type: text/plain\r\n" +
				"\r\n" +
				"Plain\r\n" +
				"--XYZ--\r\n",
			expected: "Plain",
		},
		{
			name: "html only",
			raw: "From: a@x.com\r\n" +
				"Content-Type: text/html\r\n" +
				"\r\n" +
				"<div>Fish &amp; chips<br/>today</div>\r\n",
			expected: "Fish & chips\ntoday",
		},
		{
			name: "nested with attachment",
			raw: "From: a@x.com\r\n" +
				"Content-Type: multipart/mixed; boundary=OUTER\r\n" +
				"\r\n" +
				"--OUTER\r\n" +
				"Content-Type: text/plain\r\n" +
				"Content-Disposition: attachment; filename=notes.txt\r\n" +
				"\r\n" +
				"attached notes\r\n" +
				"--OUTER\r\n" +
				"Content-Type: multipart/alternative; boundary=INNER\r\n" +
				"\r\n" +
				"--INNER\r\n" +
				"Content-Type: text/plain\r\n" +
				"\r\n" +
				"Inner text\r\n" +
				"--INNER--\r\n" +
				"--OUTER--\r\n",
			expected: "Inner text",
		},
		{
			name: "quoted printable",
			raw: "From: a@x.com\r\n" +
				"Content-Type: text/plain; charset=utf-8\r\n" +
				"Content-Transfer-Encoding: quoted-printable\r\n" +
				"\r\n" +
				"caf=C3=A9\r\n",
			expected: "café",
		},
		{
			name: "latin1 charset",
			raw: "From: a@x.com\r\n" +
				"Content-Type: text/plain; charset=iso-8859-1\r\n" +
				"Content-Transfer-Encoding: quoted-printable\r\n" +
				"\r\n" +
				"caf=E9\r\n",
			expected: "café",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := PlainText([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, text)
		})
	}
}

func TestPlainTextNoTextParts(t *testing.T) {
	raw := "From: a@x.com\r\n" +
		"Content-Type: image/png\r\n" +
		"\r\n" +
		"binary\r\n"

	text, err := PlainText([]byte(raw))
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestHTMLToPlainText(t *testing.T) {
	assert.Equal(t, "a < b", HTMLToPlainText("<p>a &lt; b</p>"))
	assert.Equal(t, "line one\nline two", HTMLToPlainText("line one<br>line two"))
	assert.Equal(t, "", HTMLToPlainText("<img src=x>"))
}
