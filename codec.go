// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// PacketCodec turns packets into transport messages and back.
type PacketCodec interface {
	Encode(p Packet) ([]byte, error)
	Decode(data []byte) (Packet, error)
	Name() string
}

// CBORCodec encodes each packet as one CBOR array. Maps decode with string
// keys so capability mappings arrive in the shape the session expects.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec returns a codec with canonical map ordering.
func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, configurationError("NewCBORCodec", "invalid encoder options", err)
	}
	dec, err := cbor.DecOptions{
		DefaultMapType:   reflect.TypeOf(map[string]interface{}(nil)),
		MaxArrayElements: 1 << 20,
	}.DecMode()
	if err != nil {
		return nil, configurationError("NewCBORCodec", "invalid decoder options", err)
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

// Encode marshals p.
func (c *CBORCodec) Encode(p Packet) ([]byte, error) {
	if p.Command() == "" {
		return nil, protocolError("CBORCodec.Encode", "packet has no command", nil)
	}
	data, err := c.enc.Marshal([]interface{}(p))
	if err != nil {
		return nil, protocolError("CBORCodec.Encode", "failed to encode packet "+p.Command(), err)
	}
	return data, nil
}

// Decode unmarshals one packet.
func (c *CBORCodec) Decode(data []byte) (Packet, error) {
	var items []interface{}
	if err := c.dec.Unmarshal(data, &items); err != nil {
		return nil, protocolError("CBORCodec.Decode", "failed to decode packet", err)
	}
	p := Packet(items)
	if p.Command() == "" {
		return nil, protocolError("CBORCodec.Decode", "packet has no command", nil)
	}
	return p, nil
}

// Name returns the codec name used in logs.
func (c *CBORCodec) Name() string {
	return "cbor"
}
