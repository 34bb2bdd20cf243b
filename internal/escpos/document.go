// Package escpos decodes raw ESC/POS print streams into a structured
// document model. Decoding is best effort: malformed or truncated input
// never fails a parse, it only downgrades the document status.
package escpos

type Status string

const (
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
)

type Alignment string

const (
	AlignLeft   Alignment = "left"
	AlignCenter Alignment = "center"
	AlignRight  Alignment = "right"
)

type HriPosition string

const (
	HriNone  HriPosition = "none"
	HriAbove HriPosition = "above"
	HriBelow HriPosition = "below"
	HriBoth  HriPosition = "both"
)

type Symbology string

const (
	SymbologyEAN13   Symbology = "ean13"
	SymbologyEAN8    Symbology = "ean8"
	SymbologyITF     Symbology = "itf"
	SymbologyCode128 Symbology = "code128"
)

type CutKind string

const (
	CutFull    CutKind = "full"
	CutPartial CutKind = "partial"
)

// Element is one decoded unit of a document, in stream order. Formatting
// fields on each element are a snapshot of the printer state at the
// moment the element was emitted; later commands never change them.
type Element interface {
	element()
}

type TextRun struct {
	Content   string
	Bold      bool
	Alignment Alignment
	WidthMul  int
	HeightMul int
}

type RasterImage struct {
	WidthPx  int
	HeightPx int
	// Bitmap is row-major, 1 bit per pixel, most significant bit first.
	Bitmap []byte
}

type Barcode struct {
	Symbology   Symbology
	Data        []byte
	ModuleWidth int
	Height      int
	Hri         HriPosition
	HriFont     int
}

type QrCode struct {
	Payload    []byte
	Model      int
	ModuleSize int
	Ecc        int
}

type Cut struct {
	Kind CutKind
}

func (TextRun) element()     {}
func (RasterImage) element() {}
func (Barcode) element()     {}
func (QrCode) element()      {}
func (Cut) element()         {}

// Document is the parse result for one job's byte stream.
type Document struct {
	Elements []Element
	Status   Status
}

func (d *Document) Partial() bool {
	return d.Status == StatusPartial
}
