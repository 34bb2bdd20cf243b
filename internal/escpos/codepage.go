package escpos

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// DefaultPage is the ESC t page number every table lookup falls back
// to: page 0, CP437, the power-on page on Epson hardware.
const DefaultPage byte = 0

// ESC t page numbers per the Epson assignment, restricted to the pages
// receipt hardware actually ships with.
var codepages = map[byte]*charmap.Charmap{
	0:  charmap.CodePage437,
	2:  charmap.CodePage850,
	3:  charmap.CodePage860,
	4:  charmap.CodePage863,
	5:  charmap.CodePage865,
	16: charmap.Windows1252,
	17: charmap.CodePage866,
	18: charmap.CodePage852,
	19: charmap.CodePage858,
}

var pageNames = map[string]byte{
	"cp437":       0,
	"cp850":       2,
	"cp860":       3,
	"cp863":       4,
	"cp865":       5,
	"cp1252":      16,
	"windows1252": 16,
	"cp866":       17,
	"cp852":       18,
	"cp858":       19,
}

// PageByName resolves a configuration codepage name to its ESC t page
// number.
func PageByName(name string) (byte, bool) {
	page, ok := pageNames[strings.ToLower(name)]
	return page, ok
}

// PageSupported reports whether an ESC t page number has a table.
func PageSupported(page byte) bool {
	_, ok := codepages[page]
	return ok
}

// Decode maps every byte of data to one character using the table for
// page. Unknown pages decode with DefaultPage's table, and bytes the
// table leaves undefined decode to U+FFFD. Decode never fails. The
// parser resolves unsupported ESC t selections against its configured
// default before text reaches here, so the DefaultPage fallback only
// covers direct callers.
func Decode(page byte, data []byte) string {
	cm, ok := codepages[page]
	if !ok {
		cm = codepages[DefaultPage]
	}

	var sb strings.Builder
	sb.Grow(len(data))
	for _, b := range data {
		sb.WriteRune(cm.DecodeByte(b))
	}
	return sb.String()
}
