package escpos

// Printer power-on defaults for the barcode parameters that GS h, GS w,
// GS H and GS f adjust.
const (
	defaultBarcodeHeight = 162
	defaultBarcodeWidth  = 3

	defaultQrModel      = 2
	defaultQrModuleSize = 4
	defaultQrEcc        = 48
)

// parserState is the mutable formatting context threaded through one
// job's decode. One instance per parse, never shared.
type parserState struct {
	alignment Alignment
	bold      bool
	widthMul  int
	heightMul int
	codepage  byte

	barcodeHeight  int
	barcodeWidth   int
	barcodeHri     HriPosition
	barcodeHriFont int

	qrModel      int
	qrModuleSize int
	qrEcc        int
	qrData       []byte
}

func newParserState(page byte) parserState {
	var st parserState
	st.reset(page)
	return st
}

func (st *parserState) reset(page byte) {
	*st = parserState{
		alignment: AlignLeft,
		bold:      false,
		widthMul:  1,
		heightMul: 1,
		codepage:  page,

		barcodeHeight:  defaultBarcodeHeight,
		barcodeWidth:   defaultBarcodeWidth,
		barcodeHri:     HriNone,
		barcodeHriFont: 0,

		qrModel:      defaultQrModel,
		qrModuleSize: defaultQrModuleSize,
		qrEcc:        defaultQrEcc,
		qrData:       nil,
	}
}

func clampMul(n int) int {
	if n < 1 {
		return 1
	}
	if n > 8 {
		return 8
	}
	return n
}
