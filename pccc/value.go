package pccc

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"strings"
)

const stringFileChars = 82

// UnpackReply decodes the reply payload for a read according to the
// address mode and file type. Word reads of a single element return a
// scalar; multi-element reads return a slice in element order.
func UnpackReply(addr *TagAddress, data []byte) (interface{}, error) {
	if addr.AddressField == 3 {
		return unpackBit(addr, data)
	}

	size := addr.FileType.DataSize()
	if size == 0 {
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrPacking, addr.FileType)
	}
	if len(data) == 0 || len(data)%size != 0 {
		return nil, fmt.Errorf("%w: reply payload length %d not a multiple of %d for %s", ErrPacking, len(data), size, addr.Tag)
	}

	values := make([]interface{}, 0, len(data)/size)
	for i := 0; i < len(data); i += size {
		v, err := unpackScalar(addr.FileType, data[i:i+size])
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if len(values) == 1 {
		return values[0], nil
	}
	return values, nil
}

// unpackBit handles address_field 3 replies. PRE and ACC sub-elements
// of timers and counters are whole words at fixed offsets inside the
// 6-byte control structure; everything else is a single bit extracted
// from the first word.
func unpackBit(addr *TagAddress, data []byte) (interface{}, error) {
	if addr.FileType == FileTimer || addr.FileType == FileCounter {
		switch addr.SubElement {
		case subPRE:
			if len(data) < 4 {
				return nil, fmt.Errorf("%w: short timer/counter payload for %s", ErrPacking, addr.Tag)
			}
			return int16(binary.LittleEndian.Uint16(data[2:4])), nil
		case subACC:
			if len(data) < 6 {
				return nil, fmt.Errorf("%w: short timer/counter payload for %s", ErrPacking, addr.Tag)
			}
			return int16(binary.LittleEndian.Uint16(data[4:6])), nil
		}
	}
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: short bit payload for %s", ErrPacking, addr.Tag)
	}
	word := binary.LittleEndian.Uint16(data[:2])
	return (word>>uint(addr.SubElement))&1 == 1, nil
}

// unpackScalar decodes one element of the given file type.
func unpackScalar(ft FileType, data []byte) (interface{}, error) {
	switch ft {
	case FileFloat:
		return math.Float32frombits(binary.LittleEndian.Uint32(data)), nil
	case FileLong:
		return int32(binary.LittleEndian.Uint32(data)), nil
	case FileString:
		return unpackString(data), nil
	default:
		return int16(binary.LittleEndian.Uint16(data)), nil
	}
}

// unpackString decodes an 84-byte ST element: a length word followed by
// 82 character bytes stored with each byte pair swapped.
func unpackString(data []byte) string {
	n := int(binary.LittleEndian.Uint16(data[:2]))
	chars := swapBytePairs(data[2:])
	if n > len(chars) {
		n = len(chars)
	}
	return string(chars[:n])
}

func swapBytePairs(in []byte) []byte {
	out := make([]byte, len(in))
	copy(out, in)
	for i := 0; i+1 < len(out); i += 2 {
		out[i], out[i+1] = out[i+1], out[i]
	}
	return out
}

// PackValue encodes a caller-supplied value for a write to the given
// address. A []byte value is passed through untouched.
func PackValue(addr *TagAddress, value interface{}) ([]byte, error) {
	if raw, ok := value.([]byte); ok {
		return raw, nil
	}

	if addr.ElementCount > 1 {
		return packSequence(addr, value)
	}

	if addr.AddressField == 3 {
		return packBit(addr, value)
	}

	return packScalar(addr.FileType, value)
}

// packSequence packs a multi-element write. The value must be a slice
// of at least element_count entries; longer slices are truncated,
// shorter ones are an arity error.
func packSequence(addr *TagAddress, value interface{}) ([]byte, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: %s wants %d elements, got non-sequence %T", ErrPacking, addr.Tag, addr.ElementCount, value)
	}
	if rv.Len() < addr.ElementCount {
		return nil, fmt.Errorf("%w: %s wants %d elements, got %d", ErrPacking, addr.Tag, addr.ElementCount, rv.Len())
	}
	out := make([]byte, 0, addr.ElementCount*addr.FileType.DataSize())
	for i := 0; i < addr.ElementCount; i++ {
		b, err := packScalar(addr.FileType, rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// packBit encodes an address_field 3 write. Writes to a timer/counter
// PRE or ACC overwrite the whole word under a 0xFFFF mask; all other
// bit writes send a mask/value pair where the mask half is always the
// single bit and the value half is the bit or zero.
func packBit(addr *TagAddress, value interface{}) ([]byte, error) {
	if (addr.FileType == FileTimer || addr.FileType == FileCounter) &&
		(addr.SubElement == subPRE || addr.SubElement == subACC) {
		word, err := packScalar(addr.FileType, value)
		if err != nil {
			return nil, err
		}
		return append([]byte{0xFF, 0xFF}, word...), nil
	}

	set, err := truthy(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPacking, addr.Tag, err)
	}
	mask := uint16(1) << uint(addr.SubElement)
	out := binary.LittleEndian.AppendUint16(nil, mask)
	if set {
		return binary.LittleEndian.AppendUint16(out, mask), nil
	}
	return binary.LittleEndian.AppendUint16(out, 0), nil
}

// packScalar encodes one element of the given file type.
func packScalar(ft FileType, value interface{}) ([]byte, error) {
	switch ft {
	case FileFloat:
		f, err := toFloat64(value)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(f))), nil
	case FileLong:
		n, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("%w: value %d out of range for L file", ErrPacking, n)
		}
		return binary.LittleEndian.AppendUint32(nil, uint32(int32(n))), nil
	case FileString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: ST file wants a string, got %T", ErrPacking, value)
		}
		return packString(s)
	default:
		n, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt16 || n > math.MaxInt16 {
			return nil, fmt.Errorf("%w: value %d out of range for %s file", ErrPacking, n, ft)
		}
		return binary.LittleEndian.AppendUint16(nil, uint16(n)), nil
	}
}

// packString encodes an ST element: length word then 82 pair-swapped
// character bytes, zero padded.
func packString(s string) ([]byte, error) {
	if len(s) > stringFileChars {
		return nil, fmt.Errorf("%w: string length %d exceeds %d characters", ErrPacking, len(s), stringFileChars)
	}
	chars := make([]byte, stringFileChars)
	copy(chars, s)
	out := binary.LittleEndian.AppendUint16(nil, uint16(len(s)))
	return append(out, swapBytePairs(chars)...), nil
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case float32:
		return integralFloat(float64(v))
	case float64:
		return integralFloat(v)
	default:
		return 0, fmt.Errorf("%w: cannot encode %T as integer", ErrPacking, value)
	}
}

// integralFloat accepts whole-number floats so JSON-decoded values
// round trip without a cast at every call site.
func integralFloat(f float64) (int64, error) {
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: cannot encode fractional value %v as integer", ErrPacking, f)
	}
	return int64(f), nil
}

func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%w: cannot encode %T as float", ErrPacking, value)
	}
}

func truthy(value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(v) {
		case "1", "true", "on":
			return true, nil
		case "0", "false", "off", "":
			return false, nil
		}
		return false, fmt.Errorf("cannot interpret %q as a bit", v)
	default:
		n, err := toInt64(value)
		if err != nil {
			return false, err
		}
		return n != 0, nil
	}
}
