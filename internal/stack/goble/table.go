package goble

import (
	"encoding/binary"
	"fmt"

	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/srg/picoimu/internal/peripheral"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// AttrKind is the type of an attribute table entry.
type AttrKind int

const (
	AttrService AttrKind = iota + 1
	AttrCharacteristic
	AttrValue
	AttrCCCD
)

func (k AttrKind) String() string {
	switch k {
	case AttrService:
		return "service"
	case AttrCharacteristic:
		return "characteristic"
	case AttrValue:
		return "value"
	case AttrCCCD:
		return "cccd"
	default:
		return fmt.Sprintf("attr(%d)", int(k))
	}
}

// Attribute is one row of the attribute table.
type Attribute struct {
	Handle     peripheral.Handle
	Kind       AttrKind
	UUID       uuid.UUID // zero for CCCD rows
	Properties peripheral.Property
}

var (
	cccdOff = []byte{0x00, 0x00}
	cccdOn  = []byte{0x01, 0x00}
)

// attrTable mirrors the ATT handle layout that go-ble assigns to a service:
// service declaration, then per characteristic a declaration, its value and,
// for notifying characteristics, the CCCD. Values are read from both the HCI
// goroutine and the streaming loop.
type attrTable struct {
	rows   *orderedmap.OrderedMap[peripheral.Handle, Attribute]
	values *hashmap.Map[peripheral.Handle, []byte]
	next   peripheral.Handle
}

func newAttrTable() *attrTable {
	return &attrTable{
		rows:   orderedmap.New[peripheral.Handle, Attribute](),
		values: hashmap.New[peripheral.Handle, []byte](),
		next:   1,
	}
}

func (t *attrTable) add(kind AttrKind, id uuid.UUID, props peripheral.Property) peripheral.Handle {
	h := t.next
	t.next++
	t.rows.Set(h, Attribute{Handle: h, Kind: kind, UUID: id, Properties: props})

	switch kind {
	case AttrValue:
		t.values.Set(h, []byte{})
	case AttrCCCD:
		t.values.Set(h, cccdOff)
	}
	return h
}

// addService appends the rows for def and returns the nested registration.
func (t *attrTable) addService(def peripheral.ServiceDef) peripheral.RegisteredService {
	reg := peripheral.RegisteredService{
		Nested:  true,
		Service: t.add(AttrService, def.UUID, 0),
	}
	for _, c := range def.Characteristics {
		t.add(AttrCharacteristic, c.UUID, c.Properties)
		v := t.add(AttrValue, c.UUID, c.Properties)
		if c.Properties.Has(peripheral.PropNotify) {
			t.add(AttrCCCD, uuid.Nil, peripheral.PropRead|peripheral.PropWrite)
		}
		reg.Values = append(reg.Values, v)
	}
	return reg
}

func (t *attrTable) lookup(h peripheral.Handle) (Attribute, bool) {
	return t.rows.Get(h)
}

// read returns a copy of the value at h. Declarations encode as on the wire.
func (t *attrTable) read(h peripheral.Handle) ([]byte, error) {
	attr, ok := t.rows.Get(h)
	if !ok {
		return nil, fmt.Errorf("attribute handle %d: %w", h, ErrInvalidHandle)
	}

	switch attr.Kind {
	case AttrService:
		return peripheral.ReversedBytes(attr.UUID), nil
	case AttrCharacteristic:
		b := make([]byte, 3, 3+len(attr.UUID))
		b[0] = byte(attr.Properties)
		binary.LittleEndian.PutUint16(b[1:], uint16(h+1))
		return append(b, peripheral.ReversedBytes(attr.UUID)...), nil
	}

	v, _ := t.values.Get(h)
	return append([]byte(nil), v...), nil
}

func (t *attrTable) write(h peripheral.Handle, v []byte) {
	t.values.Set(h, append([]byte(nil), v...))
}

// Attributes returns the table rows in handle order.
func (t *attrTable) attributes() []Attribute {
	out := make([]Attribute, 0, t.rows.Len())
	for p := t.rows.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value)
	}
	return out
}
