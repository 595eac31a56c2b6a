package box

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"

	"github.com/pkg/errors"
)

// Brands that announce HEVC coded HEIF images.
var heifBrands = []Type{
	TypeOf("heic"), TypeOf("heix"), TypeOf("heim"), TypeOf("heis"),
	TypeOf("hevc"), TypeOf("hevx"), TypeOf("mif1"), TypeOf("msf1"),
}

// Auxiliary image types of alpha planes.
var alphaAuxTypes = []string{
	"urn:mpeg:hevc:2015:auxid:1",
	"urn:mpeg:mpegB:cicp:systems:auxiliary:alpha",
}

// Item is an entry of the item information and location boxes together
// with its properties and outgoing references.
type Item struct {
	ID     uint32
	Type   Type
	Name   string
	Hidden bool

	ConstructionMethod uint8
	BaseOffset         uint64
	Extents            []Extent

	// Properties associated with the item, in association order
	Properties []*Box

	// References from this item, by reference type
	Refs map[Type][]uint32
}

// Extent is a run of item data.
type Extent struct {
	Offset, Length uint64
}

// Property returns the first associated property of type t, or nil.
func (it *Item) Property(t Type) *Box {
	return Find(it.Properties, t)
}

// File is the item model of a HEIF file.
type File struct {
	FileType FileTypeBox
	Primary  uint32 // zero when there is no pitm box
	Items    []*Item

	data []byte
	idat []byte

	logger *slog.Logger
}

// IsHEIF reports whether data starts with an ftyp box carrying a HEVC
// image brand.
func IsHEIF(data []byte) bool {
	if len(data) < 16 || Type(binary.BigEndian.Uint32(data[4:8])) != TypeFileType {
		return false
	}
	n := binary.BigEndian.Uint32(data[0:4])
	if n < 16 || int(n) > len(data) {
		return false
	}
	var ftyp FileTypeBox
	if ftyp.Parse(data[8:n]) != nil {
		return false
	}
	for _, b := range heifBrands {
		if ftyp.HasBrand(b) {
			return true
		}
	}
	return false
}

// Parse reads the meta box of a HEIF file. data must hold the whole file
// since item extents address it by absolute offset. A nil logger discards
// output.
func Parse(data []byte, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	f := &File{data: data, logger: logger.With("module", "box")}

	r := NewReader(bytes.NewReader(data))
	var meta *Box
	for {
		b, err := r.ReadBox()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch b.Type {
		case TypeFileType:
			if err := f.FileType.Parse(b.Contents); err != nil {
				return nil, err
			}
		case TypeMeta:
			meta = b
		}
		f.logger.Debug("top level box", "type", b.Type, "offset", r.Offset()-int64(b.Length), "length", b.Length)
	}
	if meta == nil {
		return nil, errors.Wrap(ErrMalformedBox, "no meta box")
	}
	if err := f.parseMeta(meta); err != nil {
		return nil, err
	}
	f.logger.Debug("HEIF items", "count", len(f.Items), "primary", f.Primary)
	return f, nil
}

func (f *File) parseMeta(meta *Box) error {
	_, _, payload, err := meta.FullBox()
	if err != nil {
		return err
	}
	children, err := ReadAll(payload)
	if err != nil {
		return errors.Wrap(err, "meta")
	}

	if hdlr := Find(children, TypeHandler); hdlr != nil {
		_, _, p, err := hdlr.FullBox()
		if err != nil {
			return err
		}
		if len(p) < 8 {
			return errors.Wrap(ErrMalformedBox, "hdlr too short")
		}
		if h := Type(binary.BigEndian.Uint32(p[4:8])); h != TypePicture {
			return errors.Wrapf(ErrMalformedBox, "handler %v is not pict", h)
		}
	}

	if b := Find(children, TypeItemInfo); b != nil {
		if err := f.parseItemInfo(b); err != nil {
			return err
		}
	}
	if b := Find(children, TypePrimaryItem); b != nil {
		v, _, p, err := b.FullBox()
		if err != nil {
			return err
		}
		c := cursor{data: p}
		f.Primary = c.id(v)
		if c.err != nil {
			return errors.Wrap(c.err, "pitm")
		}
	}
	if b := Find(children, TypeItemLocation); b != nil {
		if err := f.parseItemLocation(b); err != nil {
			return err
		}
	}
	if b := Find(children, TypeItemReference); b != nil {
		if err := f.parseItemReference(b); err != nil {
			return err
		}
	}
	if b := Find(children, TypeItemProperties); b != nil {
		if err := f.parseItemProperties(b); err != nil {
			return err
		}
	}
	if b := Find(children, TypeItemData); b != nil {
		f.idat = b.Contents
	}
	return nil
}

// Item returns the item with the given ID, or nil.
func (f *File) Item(id uint32) *Item {
	for _, it := range f.Items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

func (f *File) itemOrNew(id uint32) *Item {
	if it := f.Item(id); it != nil {
		return it
	}
	it := &Item{ID: id}
	f.Items = append(f.Items, it)
	return it
}

func (f *File) parseItemInfo(b *Box) error {
	v, _, p, err := b.FullBox()
	if err != nil {
		return err
	}
	c := cursor{data: p}
	if v == 0 {
		c.u16()
	} else {
		c.u32()
	}
	if c.err != nil {
		return errors.Wrap(c.err, "iinf")
	}
	entries, err := ReadAll(c.rest())
	if err != nil {
		return errors.Wrap(err, "iinf")
	}
	for _, e := range entries {
		if e.Type != TypeItemInfoEntry {
			continue
		}
		ev, flags, ep, err := e.FullBox()
		if err != nil {
			return err
		}
		ec := cursor{data: ep}
		var id uint32
		var typ Type
		switch {
		case ev < 2:
			id = uint32(ec.u16())
			ec.u16() // item_protection_index
		default:
			if ev == 2 {
				id = uint32(ec.u16())
			} else {
				id = ec.u32()
			}
			ec.u16()
			typ = Type(ec.u32())
		}
		name := ec.cstring()
		if ec.err != nil {
			return errors.Wrapf(ec.err, "infe version %d", ev)
		}
		it := f.itemOrNew(id)
		it.Type = typ
		it.Name = name
		it.Hidden = flags&1 != 0
	}
	return nil
}

func (f *File) parseItemLocation(b *Box) error {
	v, _, p, err := b.FullBox()
	if err != nil {
		return err
	}
	if v > 2 {
		return errors.Wrapf(ErrMalformedBox, "iloc version %d", v)
	}
	c := cursor{data: p}
	sizes := c.u16()
	offsetSize, lengthSize := int(sizes>>12), int(sizes>>8&15)
	baseOffsetSize, indexSize := int(sizes>>4&15), 0
	if v > 0 {
		indexSize = int(sizes & 15)
	}
	count := c.id(v / 2)
	for i := uint32(0); i < count && c.err == nil; i++ {
		it := f.itemOrNew(c.id(v / 2))
		if v > 0 {
			it.ConstructionMethod = uint8(c.u16() & 15)
		}
		c.u16() // data_reference_index
		it.BaseOffset = c.uint(baseOffsetSize)
		n := int(c.u16())
		it.Extents = it.Extents[:0]
		for j := 0; j < n && c.err == nil; j++ {
			if indexSize > 0 {
				c.uint(indexSize)
			}
			off := c.uint(offsetSize)
			it.Extents = append(it.Extents, Extent{Offset: off, Length: c.uint(lengthSize)})
		}
	}
	if c.err != nil {
		return errors.Wrap(c.err, "iloc")
	}
	return nil
}

func (f *File) parseItemReference(b *Box) error {
	v, _, p, err := b.FullBox()
	if err != nil {
		return err
	}
	refs, err := ReadAll(p)
	if err != nil {
		return errors.Wrap(err, "iref")
	}
	for _, ref := range refs {
		c := cursor{data: ref.Contents}
		from := f.itemOrNew(c.id(v))
		n := int(c.u16())
		for i := 0; i < n && c.err == nil; i++ {
			if from.Refs == nil {
				from.Refs = make(map[Type][]uint32)
			}
			from.Refs[ref.Type] = append(from.Refs[ref.Type], c.id(v))
		}
		if c.err != nil {
			return errors.Wrapf(c.err, "iref %v", ref.Type)
		}
	}
	return nil
}

func (f *File) parseItemProperties(b *Box) error {
	children, err := ReadAll(b.Contents)
	if err != nil {
		return errors.Wrap(err, "iprp")
	}
	ipco := Find(children, TypePropertyContainer)
	if ipco == nil {
		return nil
	}
	props, err := ReadAll(ipco.Contents)
	if err != nil {
		return errors.Wrap(err, "ipco")
	}
	for _, ipma := range children {
		if ipma.Type != TypePropertyAssociation {
			continue
		}
		v, flags, p, err := ipma.FullBox()
		if err != nil {
			return err
		}
		c := cursor{data: p}
		n := c.u32()
		for i := uint32(0); i < n && c.err == nil; i++ {
			var id uint32
			if v < 1 {
				id = uint32(c.u16())
			} else {
				id = c.u32()
			}
			it := f.itemOrNew(id)
			assoc := int(c.u8())
			for j := 0; j < assoc && c.err == nil; j++ {
				var idx int
				if flags&1 != 0 {
					idx = int(c.u16() & 0x7FFF)
				} else {
					idx = int(c.u8() & 0x7F)
				}
				// Index 0 means no property.
				if idx == 0 {
					continue
				}
				if idx > len(props) {
					return errors.Wrapf(ErrMalformedBox, "ipma: property index %d of %d", idx, len(props))
				}
				it.Properties = append(it.Properties, props[idx-1])
			}
		}
		if c.err != nil {
			return errors.Wrap(c.err, "ipma")
		}
	}
	return nil
}

// PrimaryItem returns the primary item. Without a pitm box the first
// visible hvc1 or grid item is used.
func (f *File) PrimaryItem() (*Item, error) {
	if f.Primary != 0 {
		if it := f.Item(f.Primary); it != nil {
			return it, nil
		}
		return nil, errors.Wrapf(ErrMalformedBox, "primary item %d not found", f.Primary)
	}
	for _, it := range f.Items {
		if !it.Hidden && (it.Type == TypeHVC1 || it.Type == TypeGrid) {
			return it, nil
		}
	}
	return nil, errors.Wrap(ErrMalformedBox, "no image item")
}

// Data returns the payload of an item, concatenating its extents.
func (f *File) Data(it *Item) ([]byte, error) {
	var src []byte
	switch it.ConstructionMethod {
	case 0:
		src = f.data
	case 1:
		src = f.idat
	default:
		return nil, errors.Wrapf(ErrMalformedBox, "item %d: construction method %d", it.ID, it.ConstructionMethod)
	}
	var out []byte
	for _, e := range it.Extents {
		start := it.BaseOffset + e.Offset
		length := e.Length
		if length == 0 && len(it.Extents) == 1 {
			// The extent runs to the end of the source.
			length = uint64(len(src)) - min(start, uint64(len(src)))
		}
		if start > uint64(len(src)) || length > uint64(len(src))-start {
			return nil, errors.Wrapf(ErrMalformedBox, "item %d: extent %d+%d outside %d bytes", it.ID, start, length, len(src))
		}
		out = append(out, src[start:start+length]...)
	}
	return out, nil
}

// Alpha returns the auxiliary alpha item of the item with the given ID,
// or nil.
func (f *File) Alpha(id uint32) *Item {
	for _, it := range f.Items {
		if it.Type != TypeHVC1 {
			continue
		}
		for _, to := range it.Refs[TypeAuxiliary] {
			if to != id {
				continue
			}
			aux := it.Property(TypeAuxiliaryType)
			if aux == nil {
				continue
			}
			t, err := AuxType(aux)
			if err != nil {
				continue
			}
			for _, a := range alphaAuxTypes {
				if t == a {
					return it
				}
			}
		}
	}
	return nil
}

// Grid is the payload of an image grid item together with its tiles.
type Grid struct {
	Rows, Columns int
	Width, Height uint32

	// Tile item IDs in raster order
	Tiles []uint32
}

// Grid parses the image grid item it.
func (f *File) Grid(it *Item) (*Grid, error) {
	data, err := f.Data(it)
	if err != nil {
		return nil, err
	}
	c := cursor{data: data}
	c.u8() // version
	flags := c.u8()
	g := &Grid{Rows: int(c.u8()) + 1, Columns: int(c.u8()) + 1}
	if flags&1 != 0 {
		g.Width, g.Height = c.u32(), c.u32()
	} else {
		g.Width, g.Height = uint32(c.u16()), uint32(c.u16())
	}
	if c.err != nil {
		return nil, errors.Wrap(c.err, "grid")
	}
	g.Tiles = it.Refs[TypeDerivedImage]
	if len(g.Tiles) != g.Rows*g.Columns {
		return nil, errors.Wrapf(ErrMalformedBox, "grid %dx%d has %d tiles", g.Columns, g.Rows, len(g.Tiles))
	}
	return g, nil
}

// SpatialExtent parses an ispe property.
func SpatialExtent(b *Box) (width, height uint32, err error) {
	_, _, p, err := b.FullBox()
	if err != nil {
		return 0, 0, err
	}
	c := cursor{data: p}
	width, height = c.u32(), c.u32()
	if c.err != nil {
		return 0, 0, errors.Wrap(c.err, "ispe")
	}
	return width, height, nil
}

// AuxType returns the aux_type of an auxC property.
func AuxType(b *Box) (string, error) {
	_, _, p, err := b.FullBox()
	if err != nil {
		return "", err
	}
	c := cursor{data: p}
	s := c.cstring()
	return s, errors.Wrap(c.err, "auxC")
}

// cursor reads big-endian fields from a box payload. The first read past
// the end sets err and later reads return zero.
type cursor struct {
	data []byte
	pos  int
	err  error
}

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n > len(c.data)-c.pos {
		c.err = errors.Wrap(ErrMalformedBox, "payload too short")
		return nil
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b
}

func (c *cursor) u8() uint8 {
	if b := c.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (c *cursor) u16() uint16 {
	if b := c.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (c *cursor) u32() uint32 {
	if b := c.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

// uint reads an unsigned field of 0, 4 or 8 bytes.
func (c *cursor) uint(size int) uint64 {
	switch size {
	case 0:
		return 0
	case 4:
		return uint64(c.u32())
	case 8:
		if b := c.take(8); b != nil {
			return binary.BigEndian.Uint64(b)
		}
		return 0
	default:
		if c.err == nil {
			c.err = errors.Wrapf(ErrMalformedBox, "field size %d", size)
		}
		return 0
	}
}

// id reads an item ID: 16 bits for version 0, 32 bits otherwise.
func (c *cursor) id(version uint8) uint32 {
	if version == 0 {
		return uint32(c.u16())
	}
	return c.u32()
}

// cstring reads a null-terminated string. A missing terminator ends the
// string at the end of the payload.
func (c *cursor) cstring() string {
	if c.err != nil {
		return ""
	}
	rest := c.data[c.pos:]
	if i := bytes.IndexByte(rest, 0); i >= 0 {
		c.pos += i + 1
		return string(rest[:i])
	}
	c.pos = len(c.data)
	return string(rest)
}

func (c *cursor) rest() []byte {
	if c.err != nil {
		return nil
	}
	return c.data[c.pos:]
}
