// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package script

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// MaxParamBlockSize caps an encoded parameter block. Larger blocks cannot
// fit the instrument's step buffer.
const MaxParamBlockSize = 64

// Parameter codec failure modes. Encoding is strict; decoding never
// returns an error (see DecodeParams).
var (
	ErrMissingParam  = errors.New("missing parameter")
	ErrBadParamValue = errors.New("unencodable parameter value")
	ErrStringParam   = errors.New("string parameters are not supported")
	ErrBlockTooLarge = errors.New("parameter block too large")
)

// EncodeParams builds the TLV parameter block for one step: a count byte
// followed by one type/length/value record per schema entry, values
// little-endian. Actions without parameters encode as a single zero byte.
func EncodeParams(spec *ActionSpec, values map[string]interface{}) ([]byte, error) {
	if len(spec.Params) == 0 {
		return []byte{0x00}, nil
	}

	block := []byte{byte(len(spec.Params))}
	for _, param := range spec.Params {
		value, ok := values[param.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrMissingParam, spec.Name, param.Name)
		}
		encoded, err := encodeValue(param, value)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", spec.Name, param.Name, err)
		}
		block = append(block, byte(param.Type), byte(len(encoded)))
		block = append(block, encoded...)
	}

	if len(block) > MaxParamBlockSize {
		return nil, fmt.Errorf("%w: %s encodes to %d bytes (max %d)", ErrBlockTooLarge, spec.Name, len(block), MaxParamBlockSize)
	}
	return block, nil
}

// encodeValue converts one JSON value through its field semantics to wire
// bytes
func encodeValue(param Param, value interface{}) ([]byte, error) {
	var raw uint64
	switch param.sem {
	case semTimeOfDay:
		t, err := encodeTimeOfDay(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadParamValue, err)
		}
		raw = uint64(t)
	case semActuatorMask:
		mask, err := encodeIndexMask(value, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadParamValue, err)
		}
		raw = uint64(mask)
	case semExtLaserMask:
		mask, err := encodeIndexMask(value, 1)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadParamValue, err)
		}
		raw = uint64(mask)
	case semRTCSource:
		raw = uint64(encodeRTCSource(value))
	case semResolution:
		raw = uint64(encodeResolution(value))
	default:
		switch param.Type {
		case TypeFloat32:
			f, ok := toFloat64(value)
			if !ok {
				return nil, fmt.Errorf("%w: %v (%T)", ErrBadParamValue, value, value)
			}
			out := make([]byte, 4)
			binary.LittleEndian.PutUint32(out, math.Float32bits(float32(f)))
			return out, nil
		case TypeString:
			return nil, ErrStringParam
		}
		n, ok := toUint64(value)
		if !ok {
			return nil, fmt.Errorf("%w: %v (%T)", ErrBadParamValue, value, value)
		}
		raw = n
	}

	switch param.Type {
	case TypeUint8:
		if raw > math.MaxUint8 {
			return nil, fmt.Errorf("%w: %d exceeds uint8", ErrBadParamValue, raw)
		}
		return []byte{byte(raw)}, nil
	case TypeUint16:
		if raw > math.MaxUint16 {
			return nil, fmt.Errorf("%w: %d exceeds uint16", ErrBadParamValue, raw)
		}
		out := make([]byte, 2)
		binary.LittleEndian.PutUint16(out, uint16(raw))
		return out, nil
	case TypeUint32:
		if raw > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %d exceeds uint32", ErrBadParamValue, raw)
		}
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(raw))
		return out, nil
	case TypeString:
		return nil, ErrStringParam
	default:
		return nil, fmt.Errorf("%w: unsupported type 0x%02X", ErrBadParamValue, byte(param.Type))
	}
}

// DecodeParams walks a TLV parameter block against the schema. Decoding is
// deliberately lenient: mismatched wire types defer to the schema, odd
// lengths fall back to little-endian integer interpretation, truncation
// stops the walk with whatever was recovered, and trailing garbage is
// ignored. Problems are logged, never fatal — captured binaries must stay
// inspectable.
func DecodeParams(spec *ActionSpec, block []byte) map[string]interface{} {
	values := make(map[string]interface{})
	if len(spec.Params) == 0 {
		return values
	}

	log := logrus.WithField("action", spec.Name)
	if len(block) == 0 {
		log.Warn("empty parameter block")
		return values
	}
	if count := int(block[0]); count != len(spec.Params) {
		log.WithFields(logrus.Fields{
			"declared": count,
			"schema":   len(spec.Params),
		}).Warn("parameter count disagrees with schema, schema wins")
	}

	off := 1
	for _, param := range spec.Params {
		if off+2 > len(block) {
			log.WithField("parameter", param.Name).Warn("parameter block truncated")
			break
		}
		wireType := ParamType(block[off])
		wireLen := int(block[off+1])
		off += 2
		if off+wireLen > len(block) {
			log.WithField("parameter", param.Name).Warn("parameter value truncated")
			break
		}
		raw := block[off : off+wireLen]
		off += wireLen

		if wireType != param.Type {
			log.WithFields(logrus.Fields{
				"parameter": param.Name,
				"wire":      fmt.Sprintf("0x%02X", byte(wireType)),
				"schema":    fmt.Sprintf("0x%02X", byte(param.Type)),
			}).Warn("wire type disagrees with schema, schema wins")
		}
		values[param.Name] = decodeValue(log, param, raw)
	}
	return values
}

// decodeValue converts wire bytes back through the field semantics
func decodeValue(log *logrus.Entry, param Param, raw []byte) interface{} {
	if param.Type == TypeFloat32 && len(raw) == 4 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))
	}

	if expected := param.Type.Size(); expected > 0 && len(raw) != expected {
		log.WithFields(logrus.Fields{
			"parameter": param.Name,
			"expected":  expected,
			"actual":    len(raw),
		}).Warn("unexpected value length, interpreting as little-endian integer")
	}
	if len(raw) == 0 || len(raw) > 8 {
		return fmt.Sprintf("decode_error(%X)", raw)
	}

	var n uint64
	for i := len(raw) - 1; i >= 0; i-- {
		n = n<<8 | uint64(raw[i])
	}

	switch param.sem {
	case semTimeOfDay:
		return decodeTimeOfDay(uint32(n))
	case semActuatorMask:
		return decodeIndexMask(byte(n), 0)
	case semExtLaserMask:
		return decodeIndexMask(byte(n), 1)
	case semRTCSource:
		return decodeRTCSource(n)
	case semResolution:
		return decodeResolution(n)
	default:
		return n
	}
}
