package lexer

import (
	"reflect"
	"testing"
)

func TestLex(t *testing.T) {
	tests := []struct {
		name    string
		cmdLine string
		want    []string
	}{
		{
			name:    "plain tokens",
			cmdLine: "/c main.cpp",
			want:    []string{"/c", "main.cpp"},
		},
		{
			name:    "S3 from spec: quoted fragment concatenates with unquoted prefix",
			cmdLine: `/Fo"C:\out dir\\" /nologo`,
			want:    []string{`/FoC:\out dir\`, "/nologo"},
		},
		{
			name:    "initial backslash preserved",
			cmdLine: `\main.cpp`,
			want:    []string{`\main.cpp`},
		},
		{
			name:    "CRLF treated as whitespace",
			cmdLine: "/c\r\nmain.cpp",
			want:    []string{"/c", "main.cpp"},
		},
		{
			name:    "unclosed quote at EOL yields one token",
			cmdLine: `/FI"unterminated path`,
			want:    []string{`/FIunterminated path`},
		},
		{
			name:    "odd backslash run before quote is literal and escaped",
			cmdLine: `\\\"quoted\\\"`,
			want:    []string{`\"quoted\"`},
		},
		{
			name:    "even backslash run before quote toggles quoting",
			cmdLine: `\\"has space"\\`,
			want:    []string{`\has space` + `\\`},
		},
		{
			name:    "empty string yields no tokens",
			cmdLine: "",
			want:    nil,
		},
		{
			name:    "adjacent quoted and unquoted fragments concatenate",
			cmdLine: `/Fo"a b\main.obj"`,
			want:    []string{`/Foa b\main.obj`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Lex(tt.cmdLine)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Lex(%q) = %#v, want %#v", tt.cmdLine, got, tt.want)
			}
		})
	}
}

func TestLexFixedPointUnderRequoting(t *testing.T) {
	tests := [][]string{
		{"/c", "main.cpp"},
		{"/Fo", `C:\out dir\`},
		{`has "quote" inside`},
		{`trailing\backslash\`},
		{""},
	}

	for _, argv := range tests {
		requoted := JoinQuoted(argv)
		got := Lex(requoted)
		if !reflect.DeepEqual(got, argv) {
			t.Errorf("Lex(JoinQuoted(%#v)) = %#v, want %#v (requoted: %q)", argv, got, argv, requoted)
		}
	}
}
