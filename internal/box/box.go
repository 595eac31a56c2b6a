// Package box implements ISO base media file format box parsing and
// generation (ISO/IEC 14496-12), and the HEIF item model built on it
// (ISO/IEC 23008-12).
//
// A box consists of:
// - 4-byte length (or 1 for extended length, 0 for "to end of file")
// - 4-byte type code
// - Optional 8-byte extended length
// - Box contents
package box

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ErrMalformedBox reports a box whose length or contents do not parse.
var ErrMalformedBox = errors.New("box: malformed box")

// Box type codes
const (
	// File level
	TypeFileType  Type = 0x66747970 // "ftyp"
	TypeMeta      Type = 0x6D657461 // "meta"
	TypeMediaData Type = 0x6D646174 // "mdat"

	// Meta box children
	TypeHandler        Type = 0x68646C72 // "hdlr"
	TypePrimaryItem    Type = 0x7069746D // "pitm"
	TypeItemInfo       Type = 0x69696E66 // "iinf"
	TypeItemInfoEntry  Type = 0x696E6665 // "infe"
	TypeItemLocation   Type = 0x696C6F63 // "iloc"
	TypeItemReference  Type = 0x69726566 // "iref"
	TypeItemData       Type = 0x69646174 // "idat"
	TypeItemProperties Type = 0x69707270 // "iprp"

	// Item properties
	TypePropertyContainer   Type = 0x6970636F // "ipco"
	TypePropertyAssociation Type = 0x69706D61 // "ipma"
	TypeHEVCConfig          Type = 0x68766343 // "hvcC"
	TypeSpatialExtent       Type = 0x69737065 // "ispe"
	TypeAuxiliaryType       Type = 0x61757843 // "auxC"
	TypeColourInfo          Type = 0x636F6C72 // "colr"

	// Item types
	TypeHVC1 Type = 0x68766331 // "hvc1"
	TypeGrid Type = 0x67726964 // "grid"
	TypeExif Type = 0x45786966 // "Exif"

	// Reference types
	TypeDerivedImage Type = 0x64696D67 // "dimg"
	TypeAuxiliary    Type = 0x6175786C // "auxl"
	TypeDescribes    Type = 0x63647363 // "cdsc"
	TypeThumbnail    Type = 0x74686D62 // "thmb"

	// Handler type of image items
	TypePicture Type = 0x70696374 // "pict"
)

// Type represents a 4-byte box type code.
type Type uint32

// TypeOf returns the type code of a four character string.
func TypeOf(s string) Type {
	var b [4]byte
	copy(b[:], s)
	return Type(binary.BigEndian.Uint32(b[:]))
}

// String returns the 4-character type code.
func (t Type) String() string {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(t))
	return string(b)
}

// Box represents an ISO base media box.
type Box struct {
	Type     Type
	Length   uint64 // Total box length including header
	Contents []byte // Box contents (excluding header)
}

// New creates a box holding the concatenation of contents.
func New(t Type, contents ...[]byte) *Box {
	var data []byte
	for _, c := range contents {
		data = append(data, c...)
	}
	b := &Box{Type: t, Contents: data}
	b.Length = uint64(8 + len(data))
	if b.Length > 0xFFFFFFFF {
		b.Length += 8
	}
	return b
}

// NewFull creates a full box: version and flags followed by contents.
func NewFull(t Type, version uint8, flags uint32, contents ...[]byte) *Box {
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, uint32(version)<<24|flags&0xFFFFFF)
	return New(t, append([][]byte{hdr}, contents...)...)
}

// Header returns the box header bytes.
func (b *Box) Header() []byte {
	if b.Length <= 0xFFFFFFFF {
		header := make([]byte, 8)
		binary.BigEndian.PutUint32(header[0:4], uint32(b.Length))
		binary.BigEndian.PutUint32(header[4:8], uint32(b.Type))
		return header
	}
	// Extended length
	header := make([]byte, 16)
	binary.BigEndian.PutUint32(header[0:4], 1)
	binary.BigEndian.PutUint32(header[4:8], uint32(b.Type))
	binary.BigEndian.PutUint64(header[8:16], b.Length)
	return header
}

// Bytes returns the complete box as bytes.
func (b *Box) Bytes() []byte {
	header := b.Header()
	result := make([]byte, len(header)+len(b.Contents))
	copy(result, header)
	copy(result[len(header):], b.Contents)
	return result
}

// FullBox splits the contents of a full box into version, flags and
// payload.
func (b *Box) FullBox() (version uint8, flags uint32, payload []byte, err error) {
	if len(b.Contents) < 4 {
		return 0, 0, nil, errors.Wrapf(ErrMalformedBox, "%v: full box header", b.Type)
	}
	v := binary.BigEndian.Uint32(b.Contents)
	return uint8(v >> 24), v & 0xFFFFFF, b.Contents[4:], nil
}

// Reader reads boxes from a stream.
type Reader struct {
	r      io.Reader
	offset int64
}

// NewReader creates a new box reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadBox reads the next box from the stream. It returns io.EOF when the
// stream ends on a box boundary.
func (r *Reader) ReadBox() (*Box, error) {
	// Read box length and type
	header := make([]byte, 8)
	n, err := io.ReadFull(r.r, header)
	if err != nil {
		if err == io.EOF && n == 0 {
			return nil, io.EOF
		}
		return nil, errors.Wrap(ErrMalformedBox, "truncated box header")
	}
	r.offset += 8

	length := uint64(binary.BigEndian.Uint32(header[0:4]))
	boxType := Type(binary.BigEndian.Uint32(header[4:8]))

	headerLen := uint64(8)

	switch length {
	case 1:
		extLen := make([]byte, 8)
		if _, err := io.ReadFull(r.r, extLen); err != nil {
			return nil, errors.Wrapf(ErrMalformedBox, "%v: truncated extended length", boxType)
		}
		length = binary.BigEndian.Uint64(extLen)
		headerLen = 16
		r.offset += 8
	case 0:
		// Box extends to the end of the stream
		contents, err := io.ReadAll(r.r)
		if err != nil {
			return nil, errors.Wrapf(err, "%v: reading contents", boxType)
		}
		r.offset += int64(len(contents))
		return &Box{Type: boxType, Length: uint64(8 + len(contents)), Contents: contents}, nil
	}

	if length < headerLen {
		return nil, errors.Wrapf(ErrMalformedBox, "%v: invalid length %d", boxType, length)
	}

	contentLen := length - headerLen
	if contentLen > 1<<30 { // 1GB limit
		return nil, errors.Wrapf(ErrMalformedBox, "%v: too large (%d bytes)", boxType, contentLen)
	}

	contents := make([]byte, contentLen)
	if _, err := io.ReadFull(r.r, contents); err != nil {
		return nil, errors.Wrapf(ErrMalformedBox, "%v: truncated contents", boxType)
	}
	r.offset += int64(contentLen)

	return &Box{
		Type:     boxType,
		Length:   length,
		Contents: contents,
	}, nil
}

// Offset returns the current stream offset.
func (r *Reader) Offset() int64 {
	return r.offset
}

// ReadAll parses data as a sequence of boxes.
func ReadAll(data []byte) ([]*Box, error) {
	r := NewReader(&byteReader{data: data})
	var boxes []*Box
	for {
		b, err := r.ReadBox()
		if err == io.EOF {
			return boxes, nil
		}
		if err != nil {
			return nil, err
		}
		boxes = append(boxes, b)
	}
}

// Find returns the first box of type t, or nil.
func Find(boxes []*Box, t Type) *Box {
	for _, b := range boxes {
		if b.Type == t {
			return b
		}
	}
	return nil
}

// Writer writes boxes to a stream.
type Writer struct {
	w io.Writer
}

// NewWriter creates a new box writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteBox writes a box to the stream.
func (w *Writer) WriteBox(b *Box) error {
	_, err := w.w.Write(b.Bytes())
	return err
}

// FileTypeBox represents the ftyp box.
type FileTypeBox struct {
	Brand         Type
	MinorVersion  uint32
	Compatibility []Type
}

// Parse parses the file type box.
func (b *FileTypeBox) Parse(data []byte) error {
	if len(data) < 8 {
		return errors.Wrap(ErrMalformedBox, "file type box too short")
	}
	b.Brand = Type(binary.BigEndian.Uint32(data[0:4]))
	b.MinorVersion = binary.BigEndian.Uint32(data[4:8])

	// Read compatibility list
	numCompat := (len(data) - 8) / 4
	b.Compatibility = make([]Type, numCompat)
	for i := 0; i < numCompat; i++ {
		b.Compatibility[i] = Type(binary.BigEndian.Uint32(data[8+i*4:]))
	}
	return nil
}

// Bytes returns the box contents.
func (b *FileTypeBox) Bytes() []byte {
	data := make([]byte, 8+4*len(b.Compatibility))
	binary.BigEndian.PutUint32(data[0:4], uint32(b.Brand))
	binary.BigEndian.PutUint32(data[4:8], b.MinorVersion)
	for i, c := range b.Compatibility {
		binary.BigEndian.PutUint32(data[8+i*4:], uint32(c))
	}
	return data
}

// HasBrand reports whether the major or a compatible brand is t.
func (b *FileTypeBox) HasBrand(t Type) bool {
	if b.Brand == t {
		return true
	}
	for _, c := range b.Compatibility {
		if c == t {
			return true
		}
	}
	return false
}

// byteReader wraps a byte slice as an io.Reader.
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
