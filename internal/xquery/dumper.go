package xquery

import "strings"

// Dumper renders expressions back to surface syntax with indentation.
type Dumper struct {
	b       strings.Builder
	indent  int
	lineBeg bool
}

// NewDumper creates an empty Dumper.
func NewDumper() *Dumper {
	return &Dumper{}
}

// Display writes s at the current position.
func (d *Dumper) Display(s string) *Dumper {
	if d.lineBeg {
		d.b.WriteString(strings.Repeat("    ", d.indent))
		d.lineBeg = false
	}
	d.b.WriteString(s)
	return d
}

// NL starts a new line.
func (d *Dumper) NL() *Dumper {
	d.b.WriteByte('\n')
	d.lineBeg = true
	return d
}

// StartIndent increases indentation and starts a new line.
func (d *Dumper) StartIndent() *Dumper {
	d.indent++
	return d.NL()
}

// EndIndent decreases indentation.
func (d *Dumper) EndIndent() *Dumper {
	if d.indent > 0 {
		d.indent--
	}
	return d
}

// String returns the rendered text.
func (d *Dumper) String() string {
	return d.b.String()
}
