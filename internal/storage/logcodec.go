package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/raft"
	"google.golang.org/protobuf/encoding/protowire"
)

// Log record fields.
const (
	fieldIndex      protowire.Number = 1
	fieldTerm       protowire.Number = 2
	fieldType       protowire.Number = 3
	fieldData       protowire.Number = 4
	fieldExtensions protowire.Number = 5
	fieldAppendedAt protowire.Number = 6
)

var errBadRecord = errors.New("storage: malformed log record")

func encodeLog(l *raft.Log) []byte {
	b := make([]byte, 0, len(l.Data)+len(l.Extensions)+32)
	b = protowire.AppendTag(b, fieldIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, l.Index)
	b = protowire.AppendTag(b, fieldTerm, protowire.VarintType)
	b = protowire.AppendVarint(b, l.Term)
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(l.Type))
	if len(l.Data) > 0 {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, l.Data)
	}
	if len(l.Extensions) > 0 {
		b = protowire.AppendTag(b, fieldExtensions, protowire.BytesType)
		b = protowire.AppendBytes(b, l.Extensions)
	}
	if !l.AppendedAt.IsZero() {
		b = protowire.AppendTag(b, fieldAppendedAt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(l.AppendedAt.UnixNano()))
	}
	return b
}

// decodeLog fills out from b. Byte fields are copied.
func decodeLog(b []byte, out *raft.Log) error {
	*out = raft.Log{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", errBadRecord, protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("%w: field %d: %v", errBadRecord, num, protowire.ParseError(m))
			}
			b = b[m:]
			switch num {
			case fieldIndex:
				out.Index = v
			case fieldTerm:
				out.Term = v
			case fieldType:
				out.Type = raft.LogType(v)
			case fieldAppendedAt:
				out.AppendedAt = time.Unix(0, int64(v))
			}
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("%w: field %d: %v", errBadRecord, num, protowire.ParseError(m))
			}
			b = b[m:]
			switch num {
			case fieldData:
				out.Data = append([]byte(nil), v...)
			case fieldExtensions:
				out.Extensions = append([]byte(nil), v...)
			}
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("%w: field %d: %v", errBadRecord, num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return nil
}
