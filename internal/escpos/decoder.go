package escpos

const (
	lf  = 0x0A
	cr  = 0x0D
	esc = 0x1B
	gs  = 0x1D
)

// ESC commands that carry a fixed argument count but no meaning for the
// document model (print mode, underline, line spacing, feeds, font,
// double strike, upside down, international set). Recognizing their
// arity keeps argument bytes out of the text stream.
var escIgnoredArgs = map[byte]int{
	'!': 1,
	'-': 1,
	'2': 0,
	'3': 1,
	'G': 1,
	'J': 1,
	'd': 1,
	'M': 1,
	'R': 1,
	'{': 1,
}

// GS k symbology numbers, both the NUL-terminated and the
// length-prefixed command forms.
var symbologies = map[byte]Symbology{
	2:  SymbologyEAN13,
	3:  SymbologyEAN8,
	5:  SymbologyITF,
	67: SymbologyEAN13,
	68: SymbologyEAN8,
	70: SymbologyITF,
	73: SymbologyCode128,
}

// arg returns the byte at offset off from the current position.
// ok is false when the buffer ends first, which callers report as a
// truncation.
func (r *parseRun) arg(off int) (byte, bool) {
	if r.pos+off >= len(r.data) {
		return 0, false
	}
	return r.data[r.pos+off], true
}

func (r *parseRun) decodeEsc() bool {
	r.flushText()

	op, ok := r.arg(1)
	if !ok {
		return false
	}

	switch op {
	case '@':
		r.state.reset(r.defaultPage)
		r.pos += 2

	case 'E':
		n, ok := r.arg(2)
		if !ok {
			return false
		}
		r.state.bold = n == 1
		r.pos += 3

	case 'a':
		n, ok := r.arg(2)
		if !ok {
			return false
		}
		switch n {
		case 1, 49:
			r.state.alignment = AlignCenter
		case 2, 50:
			r.state.alignment = AlignRight
		default:
			r.state.alignment = AlignLeft
		}
		r.pos += 3

	case 't':
		n, ok := r.arg(2)
		if !ok {
			return false
		}
		if PageSupported(n) {
			r.state.codepage = n
		} else {
			r.state.codepage = r.defaultPage
		}
		r.pos += 3

	default:
		if args, known := escIgnoredArgs[op]; known {
			if r.pos+2+args > len(r.data) {
				return false
			}
			r.pos += 2 + args
		} else {
			r.pos += 2
		}
	}

	return true
}

func (r *parseRun) decodeGs() bool {
	r.flushText()

	op, ok := r.arg(1)
	if !ok {
		return false
	}

	switch op {
	case 'H':
		n, ok := r.arg(2)
		if !ok {
			return false
		}
		switch n {
		case 1:
			r.state.barcodeHri = HriAbove
		case 2:
			r.state.barcodeHri = HriBelow
		case 3:
			r.state.barcodeHri = HriBoth
		default:
			r.state.barcodeHri = HriNone
		}
		r.pos += 3

	case 'h':
		n, ok := r.arg(2)
		if !ok {
			return false
		}
		r.state.barcodeHeight = int(n)
		if r.state.barcodeHeight < 1 {
			r.state.barcodeHeight = 1
		}
		r.pos += 3

	case 'w':
		n, ok := r.arg(2)
		if !ok {
			return false
		}
		r.state.barcodeWidth = int(n)
		if r.state.barcodeWidth < 1 {
			r.state.barcodeWidth = 1
		}
		r.pos += 3

	case 'f':
		n, ok := r.arg(2)
		if !ok {
			return false
		}
		r.state.barcodeHriFont = int(n)
		r.pos += 3

	case '!':
		n, ok := r.arg(2)
		if !ok {
			return false
		}
		// Low nibble selects width, high nibble height.
		r.state.widthMul = clampMul(int(n&0x0F) + 1)
		r.state.heightMul = clampMul(int(n>>4) + 1)
		r.pos += 3

	case 'V':
		return r.decodeCut()

	case 'v':
		return r.decodeRaster()

	case '(':
		return r.decodeExtended()

	case 'k':
		return r.decodeBarcode()

	default:
		r.pos += 2
	}

	return true
}

// GS V m, with a trailing feed byte for the 'A'/'B' forms.
func (r *parseRun) decodeCut() bool {
	m, ok := r.arg(2)
	if !ok {
		return false
	}

	kind := CutFull
	switch m {
	case 1, 49, 66:
		kind = CutPartial
	}

	consumed := 3
	if m == 65 || m == 66 {
		if _, ok := r.arg(3); !ok {
			return false
		}
		consumed = 4
	}

	r.emit(Cut{Kind: kind})
	r.pos += consumed
	return true
}

// GS v 0 m xL xH yL yH d1..dk. The bitmap length is declared by the
// header; when fewer bytes remain, the complete rows that did arrive
// are emitted and decoding stops.
func (r *parseRun) decodeRaster() bool {
	if r.pos+7 >= len(r.data) {
		return false
	}
	if r.data[r.pos+2] != 0x30 {
		r.pos += 2
		return true
	}

	widthBytes := int(r.data[r.pos+4]) | int(r.data[r.pos+5])<<8
	height := int(r.data[r.pos+6]) | int(r.data[r.pos+7])<<8
	total := widthBytes * height
	start := r.pos + 8

	if start+total <= len(r.data) {
		bitmap := make([]byte, total)
		copy(bitmap, r.data[start:start+total])
		r.emit(RasterImage{
			WidthPx:  widthBytes * 8,
			HeightPx: height,
			Bitmap:   bitmap,
		})
		r.pos = start + total
		return true
	}

	if widthBytes > 0 {
		if rows := (len(r.data) - start) / widthBytes; rows > 0 {
			bitmap := make([]byte, rows*widthBytes)
			copy(bitmap, r.data[start:start+rows*widthBytes])
			r.emit(RasterImage{
				WidthPx:  widthBytes * 8,
				HeightPx: rows,
				Bitmap:   bitmap,
			})
		}
	}
	return false
}

// GS ( k pL pH cn fn ... carries its own length. Only the QR function
// group (cn = 0x31) produces elements; other groups are skipped whole.
func (r *parseRun) decodeExtended() bool {
	intro, ok := r.arg(2)
	if !ok {
		return false
	}
	if intro != 'k' {
		r.pos += 2
		return true
	}

	if r.pos+4 >= len(r.data) {
		return false
	}
	total := int(r.data[r.pos+3]) | int(r.data[r.pos+4])<<8
	start := r.pos + 5
	if start+total > len(r.data) {
		return false
	}
	if total < 2 {
		r.pos = start + total
		return true
	}

	cn := r.data[start]
	fn := r.data[start+1]
	payload := r.data[start+2 : start+total]

	if cn == 0x31 {
		r.applyQr(fn, payload)
	}

	r.pos = start + total
	return true
}

func (r *parseRun) applyQr(fn byte, payload []byte) {
	switch fn {
	case 0x41:
		if len(payload) >= 1 {
			r.state.qrModel = qrModelValue(payload[0])
		}
	case 0x43:
		if len(payload) >= 1 {
			r.state.qrModuleSize = int(payload[0])
		}
	case 0x45:
		if len(payload) >= 1 {
			r.state.qrEcc = int(payload[0])
		}
	case 0x50:
		if len(payload) >= 1 && payload[0] == 0x30 {
			r.state.qrData = append(r.state.qrData, payload[1:]...)
		}
	case 0x51:
		if len(r.state.qrData) > 0 {
			data := make([]byte, len(r.state.qrData))
			copy(data, r.state.qrData)
			r.emit(QrCode{
				Payload:    data,
				Model:      r.state.qrModel,
				ModuleSize: r.state.qrModuleSize,
				Ecc:        r.state.qrEcc,
			})
			r.state.qrData = nil
		}
	}
}

// Senders encode the QR model either as the raw number or as its ASCII
// digit; both mean the same model.
func qrModelValue(b byte) int {
	if b >= '0' && b <= '9' {
		return int(b - '0')
	}
	return int(b)
}

// GS k m: m <= 6 takes NUL-terminated data, larger m a one-byte length
// prefix. Barcode parameters set earlier (height, module width, HRI)
// are consumed from the current state.
func (r *parseRun) decodeBarcode() bool {
	m, ok := r.arg(2)
	if !ok {
		return false
	}

	if m <= 6 {
		j := r.pos + 3
		for j < len(r.data) && r.data[j] != 0x00 {
			j++
		}
		r.emitBarcode(m, r.data[r.pos+3:j])
		if j < len(r.data) {
			r.pos = j + 1
		} else {
			r.pos = j
		}
		return true
	}

	n, ok := r.arg(3)
	if !ok {
		return false
	}
	start := r.pos + 4
	if start+int(n) > len(r.data) {
		return false
	}
	r.emitBarcode(m, r.data[start:start+int(n)])
	r.pos = start + int(n)
	return true
}

func (r *parseRun) emitBarcode(m byte, payload []byte) {
	sym, ok := symbologies[m]
	if !ok {
		return
	}

	data := make([]byte, len(payload))
	copy(data, payload)
	r.emit(Barcode{
		Symbology:   sym,
		Data:        data,
		ModuleWidth: r.state.barcodeWidth,
		Height:      r.state.barcodeHeight,
		Hri:         r.state.barcodeHri,
		HriFont:     r.state.barcodeHriFont,
	})
}
