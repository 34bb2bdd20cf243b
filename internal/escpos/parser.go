package escpos

import "strings"

// Parser decodes job byte streams. A Parser is stateless across jobs
// and safe for concurrent use; each Parse runs with a fresh state.
type Parser struct {
	defaultPage byte
}

// NewParser returns a parser whose text decoding starts from the given
// ESC t page number. Jobs switch pages mid-stream with ESC t; ESC @
// returns to the default.
func NewParser(defaultPage byte) *Parser {
	if !PageSupported(defaultPage) {
		defaultPage = DefaultPage
	}
	return &Parser{defaultPage: defaultPage}
}

// Parse decodes data into a document. It always terminates and never
// fails: unrecognized commands are skipped, and a command whose
// declared length runs past the end of the buffer stops decoding with
// everything decoded so far and status partial.
func (p *Parser) Parse(data []byte) *Document {
	r := parseRun{
		data:        data,
		defaultPage: p.defaultPage,
		state:       newParserState(p.defaultPage),
		doc:         &Document{Status: StatusComplete},
	}
	r.run()
	return r.doc
}

type parseRun struct {
	data        []byte
	pos         int
	defaultPage byte
	state       parserState
	doc         *Document
	text        strings.Builder
}

func (r *parseRun) run() {
	for r.pos < len(r.data) {
		b := r.data[r.pos]

		switch {
		// LF and CR terminate the current run; neither byte belongs to
		// the run's content.
		case b == lf, b == cr:
			r.flushText()
			r.pos++

		case b == esc:
			if !r.decodeEsc() {
				r.truncate()
				return
			}

		case b == gs:
			if !r.decodeGs() {
				r.truncate()
				return
			}

		case b < 0x20:
			r.flushText()
			r.pos++

		default:
			r.readText()
		}
	}

	r.flushText()
}

// readText consumes the printable run starting at the current position
// and decodes it with the active codepage. The decoded text stays
// buffered until a control byte ends the run.
func (r *parseRun) readText() {
	start := r.pos
	for r.pos < len(r.data) && r.data[r.pos] >= 0x20 {
		r.pos++
	}
	r.text.WriteString(Decode(r.state.codepage, r.data[start:r.pos]))
}

func (r *parseRun) flushText() {
	if r.text.Len() == 0 {
		return
	}
	r.emit(TextRun{
		Content:   r.text.String(),
		Bold:      r.state.bold,
		Alignment: r.state.alignment,
		WidthMul:  r.state.widthMul,
		HeightMul: r.state.heightMul,
	})
	r.text.Reset()
}

func (r *parseRun) emit(e Element) {
	r.doc.Elements = append(r.doc.Elements, e)
}

func (r *parseRun) truncate() {
	r.flushText()
	r.doc.Status = StatusPartial
}
