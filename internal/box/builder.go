package box

import (
	"bytes"
	"encoding/binary"
)

// Builder assembles a HEIF file from coded items. Item payloads go to
// mdat, or to idat when stored inline.
type Builder struct {
	Brand   Type
	Primary uint32

	items []builderItem
	props []*Box
	refs  []*Box
}

type builderItem struct {
	id      uint32
	typ     Type
	hidden  bool
	inline  bool
	payload []byte
	props   []int
}

// AddProperty adds a property to ipco and returns its 1-based index.
func (b *Builder) AddProperty(p *Box) int {
	b.props = append(b.props, p)
	return len(b.props)
}

// AddItem adds an item with its associated property indices. Inline items
// are stored in idat.
func (b *Builder) AddItem(id uint32, typ Type, payload []byte, hidden, inline bool, props ...int) {
	b.items = append(b.items, builderItem{id: id, typ: typ, hidden: hidden, inline: inline, payload: payload, props: props})
}

// AddReference adds a reference of type t from one item to others.
func (b *Builder) AddReference(t Type, from uint32, to ...uint32) {
	data := be16(uint16(from))
	data = append(data, be16(uint16(len(to)))...)
	for _, id := range to {
		data = append(data, be16(uint16(id))...)
	}
	b.refs = append(b.refs, New(t, data))
}

// Bytes returns the file: ftyp, meta, then mdat.
func (b *Builder) Bytes() []byte {
	brand := b.Brand
	if brand == 0 {
		brand = TypeOf("heic")
	}
	ftyp := New(TypeFileType, (&FileTypeBox{Brand: brand, Compatibility: []Type{TypeOf("mif1"), brand}}).Bytes())

	var mdat []byte
	for _, it := range b.items {
		if !it.inline {
			mdat = append(mdat, it.payload...)
		}
	}
	// The meta box size does not depend on the offsets it carries.
	meta := b.meta(0)
	meta = b.meta(ftyp.Length + meta.Length + 8)

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, bx := range []*Box{ftyp, meta, New(TypeMediaData, mdat)} {
		_ = w.WriteBox(bx) // bytes.Buffer does not fail
	}
	return buf.Bytes()
}

func (b *Builder) meta(mdatStart uint64) *Box {
	hdlr := NewFull(TypeHandler, 0, 0, be32(0), be32(uint32(TypePicture)), make([]byte, 12), []byte{0})
	pitm := NewFull(TypePrimaryItem, 0, 0, be16(uint16(b.Primary)))

	infes := [][]byte{be16(uint16(len(b.items)))}
	for _, it := range b.items {
		var flags uint32
		if it.hidden {
			flags = 1
		}
		infe := NewFull(TypeItemInfoEntry, 2, flags, be16(uint16(it.id)), be16(0), be32(uint32(it.typ)), []byte{0})
		infes = append(infes, infe.Bytes())
	}
	iinf := NewFull(TypeItemInfo, 0, 0, infes...)

	// Version 1: 4-byte offsets and lengths, no base offset
	loc := [][]byte{be16(0x4400), be16(uint16(len(b.items)))}
	var idat []byte
	off := mdatStart
	for _, it := range b.items {
		method, pos := uint16(0), off
		if it.inline {
			method, pos = 1, uint64(len(idat))
			idat = append(idat, it.payload...)
		} else {
			off += uint64(len(it.payload))
		}
		loc = append(loc, be16(uint16(it.id)), be16(method), be16(0), be16(1),
			be32(uint32(pos)), be32(uint32(len(it.payload))))
	}
	iloc := NewFull(TypeItemLocation, 1, 0, loc...)

	var refs [][]byte
	for _, r := range b.refs {
		refs = append(refs, r.Bytes())
	}
	iref := NewFull(TypeItemReference, 0, 0, refs...)

	var props [][]byte
	for _, p := range b.props {
		props = append(props, p.Bytes())
	}
	assoc := [][]byte{be32(uint32(len(b.items)))}
	for _, it := range b.items {
		assoc = append(assoc, be16(uint16(it.id)), []byte{uint8(len(it.props))})
		for _, p := range it.props {
			assoc = append(assoc, []byte{uint8(p)})
		}
	}
	iprp := New(TypeItemProperties, New(TypePropertyContainer, props...).Bytes(),
		NewFull(TypePropertyAssociation, 0, 0, assoc...).Bytes())

	return NewFull(TypeMeta, 0, 0, hdlr.Bytes(), pitm.Bytes(), iinf.Bytes(), iloc.Bytes(),
		iref.Bytes(), iprp.Bytes(), New(TypeItemData, idat).Bytes())
}

// SpatialExtentProperty returns an ispe property.
func SpatialExtentProperty(width, height uint32) *Box {
	return NewFull(TypeSpatialExtent, 0, 0, be32(width), be32(height))
}

// AuxTypeProperty returns an auxC property.
func AuxTypeProperty(auxType string) *Box {
	return NewFull(TypeAuxiliaryType, 0, 0, append([]byte(auxType), 0))
}

// GridPayload returns the payload of a grid item with 16-bit output
// dimensions.
func GridPayload(rows, columns int, width, height uint16) []byte {
	return []byte{0, 0, uint8(rows - 1), uint8(columns - 1),
		uint8(width >> 8), uint8(width), uint8(height >> 8), uint8(height)}
}

func be16(v uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, v)
}

func be32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}
