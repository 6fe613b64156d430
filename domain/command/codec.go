package command

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire layout of an element record:
//
//	1: order   varint
//	2: kind    bytes
//	3: payload bytes
const (
	fieldOrder   protowire.Number = 1
	fieldKind    protowire.Number = 2
	fieldPayload protowire.Number = 3
)

// EncodeElement serializes an element into one queue record.
func EncodeElement(e Element) ([]byte, error) {
	if e.Command == nil {
		return nil, fmt.Errorf("encode element: nil command")
	}
	payload, err := e.Command.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode element %s: %w", e.Command.Kind(), err)
	}
	kind := e.Command.Kind()

	b := make([]byte, 0, len(kind)+len(payload)+16)
	b = protowire.AppendTag(b, fieldOrder, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Order)
	b = protowire.AppendTag(b, fieldKind, protowire.BytesType)
	b = protowire.AppendString(b, kind)
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	return b, nil
}

// DecodeElement parses a queue record and rebuilds its command with the
// registry. Unknown fields are skipped.
func (r *Registry) DecodeElement(b []byte) (Element, error) {
	var (
		order   uint64
		kind    string
		payload []byte
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Element{}, fmt.Errorf("decode element tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldOrder && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Element{}, fmt.Errorf("decode element order: %w", protowire.ParseError(n))
			}
			order = v
			b = b[n:]
		case num == fieldKind && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Element{}, fmt.Errorf("decode element kind: %w", protowire.ParseError(n))
			}
			kind = string(v)
			b = b[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Element{}, fmt.Errorf("decode element payload: %w", protowire.ParseError(n))
			}
			payload = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Element{}, fmt.Errorf("skip element field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if kind == "" {
		return Element{}, fmt.Errorf("decode element: missing kind")
	}
	cmd, err := r.Decode(kind, payload)
	if err != nil {
		return Element{}, err
	}
	return Element{Command: cmd, Order: order}, nil
}
