package snapshot

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/meshstore/internal/datatree"
)

// treeFormatVersion is field 1 of an encoded TreeState.
const treeFormatVersion = 1

// Field numbers. See the package doc for the message layout.
const (
	fieldBundleDatastore protowire.Number = 1

	fieldDatastoreType    protowire.Number = 1
	fieldDatastoreManager protowire.Number = 2
	fieldDatastoreShard   protowire.Number = 3

	fieldShardName protowire.Number = 1
	fieldShardLog  protowire.Number = 2

	fieldLogLastIndex        protowire.Number = 1
	fieldLogLastTerm         protowire.Number = 2
	fieldLogLastAppliedIndex protowire.Number = 3
	fieldLogLastAppliedTerm  protowire.Number = 4
	fieldLogEntry            protowire.Number = 5
	fieldLogElectionTerm     protowire.Number = 6
	fieldLogElectionVotedFor protowire.Number = 7
	fieldLogState            protowire.Number = 8
	fieldLogServerConfig     protowire.Number = 9

	fieldEntryIndex protowire.Number = 1
	fieldEntryTerm  protowire.Number = 2
	fieldEntryKind  protowire.Number = 3
	fieldEntryData  protowire.Number = 4

	fieldStateKind    protowire.Number = 1
	fieldStatePayload protowire.Number = 2

	fieldTreeVersion  protowire.Number = 1
	fieldTreeRoot     protowire.Number = 2
	fieldTreeMetadata protowire.Number = 3

	fieldMetaKey   protowire.Number = 1
	fieldMetaValue protowire.Number = 2

	fieldNodeName  protowire.Number = 1
	fieldNodeValue protowire.Number = 2
	fieldNodeChild protowire.Number = 3

	fieldConfigServer protowire.Number = 1

	fieldServerID      protowire.Number = 1
	fieldServerAddress protowire.Number = 2
	fieldServerVoting  protowire.Number = 3
)

// Encode serializes a bundle. Identical bundles produce identical bytes.
func Encode(b *Bundle) ([]byte, error) {
	var out []byte
	for i := range b.Datastores {
		msg, err := encodeDatastore(&b.Datastores[i])
		if err != nil {
			return nil, err
		}
		out = appendMessage(out, fieldBundleDatastore, msg)
	}
	return out, nil
}

// Decode parses bytes produced by Encode. It checks shape only; call
// Bundle.Validate for the log invariants.
func Decode(data []byte) (*Bundle, error) {
	b := &Bundle{}
	err := readFields(data, func(f field) error {
		if f.num != fieldBundleDatastore {
			return nil
		}
		raw, err := f.message()
		if err != nil {
			return err
		}
		ds, err := decodeDatastore(raw)
		if err != nil {
			return err
		}
		b.Datastores = append(b.Datastores, *ds)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// --- encoding ---

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// appendBytes always writes the field, so an empty slice stays present.
func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	return appendBytes(b, num, msg)
}

func encodeDatastore(ds *DatastoreSnapshot) ([]byte, error) {
	var b []byte
	b = appendString(b, fieldDatastoreType, ds.Type)
	if ds.ManagerSnapshot != nil {
		b = appendBytes(b, fieldDatastoreManager, ds.ManagerSnapshot)
	}
	for i := range ds.Shards {
		msg, err := encodeShard(&ds.Shards[i])
		if err != nil {
			return nil, fmt.Errorf("snapshot: encode %s/%s: %w", ds.Type, ds.Shards[i].Name, err)
		}
		b = appendMessage(b, fieldDatastoreShard, msg)
	}
	return b, nil
}

func encodeShard(s *ShardSnapshot) ([]byte, error) {
	var b []byte
	b = appendString(b, fieldShardName, s.Name)
	if s.Log != nil {
		msg, err := encodeLog(s.Log)
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, fieldShardLog, msg)
	}
	return b, nil
}

func encodeLog(l *ReplicatedLogSnapshot) ([]byte, error) {
	var b []byte
	b = appendVarint(b, fieldLogLastIndex, uint64(l.LastIndex))
	b = appendVarint(b, fieldLogLastTerm, uint64(l.LastTerm))
	b = appendVarint(b, fieldLogLastAppliedIndex, uint64(l.LastAppliedIndex))
	b = appendVarint(b, fieldLogLastAppliedTerm, uint64(l.LastAppliedTerm))
	for _, e := range l.UnappliedEntries {
		b = appendMessage(b, fieldLogEntry, encodeEntry(e))
	}
	b = appendVarint(b, fieldLogElectionTerm, uint64(l.ElectionTerm))
	b = appendString(b, fieldLogElectionVotedFor, l.ElectionVotedFor)
	if l.State != nil {
		msg, err := encodeState(l.State)
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, fieldLogState, msg)
	}
	if l.ServerConfig != nil {
		b = appendMessage(b, fieldLogServerConfig, encodeServerConfig(l.ServerConfig))
	}
	return b, nil
}

func encodeEntry(e LogEntry) []byte {
	var b []byte
	b = appendVarint(b, fieldEntryIndex, uint64(e.Index))
	b = appendVarint(b, fieldEntryTerm, uint64(e.Term))
	b = appendVarint(b, fieldEntryKind, uint64(e.Kind))
	if len(e.Data) > 0 {
		b = appendBytes(b, fieldEntryData, e.Data)
	}
	return b
}

func encodeState(s State) ([]byte, error) {
	var payload []byte
	switch st := s.(type) {
	case *TreeState:
		payload = encodeTree(st)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStateKind, s.Kind())
	}
	var b []byte
	b = appendVarint(b, fieldStateKind, uint64(s.Kind()))
	b = appendBytes(b, fieldStatePayload, payload)
	return b, nil
}

func encodeTree(t *TreeState) []byte {
	var b []byte
	b = appendVarint(b, fieldTreeVersion, treeFormatVersion)
	if t.Root != nil {
		b = appendMessage(b, fieldTreeRoot, encodeNode(t.Root))
	}
	keys := make([]string, 0, len(t.Metadata))
	for k := range t.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var m []byte
		m = appendString(m, fieldMetaKey, k)
		m = appendVarint(m, fieldMetaValue, t.Metadata[k])
		b = appendMessage(b, fieldTreeMetadata, m)
	}
	return b
}

func encodeNode(n *datatree.Node) []byte {
	var b []byte
	b = appendString(b, fieldNodeName, n.Name)
	if n.Value != nil {
		b = appendBytes(b, fieldNodeValue, n.Value)
	}
	for _, c := range n.Children {
		if c != nil {
			b = appendMessage(b, fieldNodeChild, encodeNode(c))
		}
	}
	return b
}

func encodeServerConfig(c *ServerConfig) []byte {
	var b []byte
	for _, s := range c.Servers {
		var m []byte
		m = appendString(m, fieldServerID, s.ID)
		m = appendString(m, fieldServerAddress, s.Address)
		if s.Voting {
			m = appendVarint(m, fieldServerVoting, 1)
		}
		b = appendMessage(b, fieldConfigServer, m)
	}
	return b
}

// --- decoding ---

// field is one decoded tag/value pair. Only varint and length-delimited
// values occur in the payload.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

func (f field) asUint() (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, corruptf("field %d: wire type %d, want varint", f.num, f.typ)
	}
	return f.varint, nil
}

func (f field) asInt() (int64, error) {
	v, err := f.asUint()
	if err != nil {
		return 0, err
	}
	if v > 1<<63-1 {
		return 0, corruptf("field %d: value %d overflows int64", f.num, v)
	}
	return int64(v), nil
}

func (f field) message() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, corruptf("field %d: wire type %d, want bytes", f.num, f.typ)
	}
	return f.bytes, nil
}

// copyBytes returns a non-nil copy so presence survives and the result
// does not alias the input buffer.
func (f field) copyBytes() ([]byte, error) {
	v, err := f.message()
	if err != nil {
		return nil, err
	}
	return append([]byte{}, v...), nil
}

func (f field) asString() (string, error) {
	v, err := f.message()
	return string(v), err
}

func readFields(b []byte, visit func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return corrupt("read tag", protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return corrupt(fmt.Sprintf("field %d", num), protowire.ParseError(m))
			}
			f.varint = v
			b = b[m:]
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return corrupt(fmt.Sprintf("field %d", num), protowire.ParseError(m))
			}
			f.bytes = v
			b = b[m:]
		default:
			return corruptf("field %d: unsupported wire type %d", num, typ)
		}

		if err := visit(f); err != nil {
			return err
		}
	}
	return nil
}

func decodeDatastore(data []byte) (*DatastoreSnapshot, error) {
	ds := &DatastoreSnapshot{}
	err := readFields(data, func(f field) error {
		var err error
		switch f.num {
		case fieldDatastoreType:
			ds.Type, err = f.asString()
		case fieldDatastoreManager:
			ds.ManagerSnapshot, err = f.copyBytes()
		case fieldDatastoreShard:
			var raw []byte
			if raw, err = f.message(); err != nil {
				return err
			}
			var s *ShardSnapshot
			if s, err = decodeShard(raw); err != nil {
				return err
			}
			ds.Shards = append(ds.Shards, *s)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return ds, nil
}

func decodeShard(data []byte) (*ShardSnapshot, error) {
	s := &ShardSnapshot{}
	err := readFields(data, func(f field) error {
		var err error
		switch f.num {
		case fieldShardName:
			s.Name, err = f.asString()
		case fieldShardLog:
			var raw []byte
			if raw, err = f.message(); err != nil {
				return err
			}
			s.Log, err = decodeLog(raw)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.Log == nil {
		return nil, corruptf("shard %q: missing log snapshot", s.Name)
	}
	return s, nil
}

func decodeLog(data []byte) (*ReplicatedLogSnapshot, error) {
	l := &ReplicatedLogSnapshot{}
	err := readFields(data, func(f field) error {
		var err error
		switch f.num {
		case fieldLogLastIndex:
			l.LastIndex, err = f.asInt()
		case fieldLogLastTerm:
			l.LastTerm, err = f.asInt()
		case fieldLogLastAppliedIndex:
			l.LastAppliedIndex, err = f.asInt()
		case fieldLogLastAppliedTerm:
			l.LastAppliedTerm, err = f.asInt()
		case fieldLogEntry:
			var raw []byte
			if raw, err = f.message(); err != nil {
				return err
			}
			var e LogEntry
			if e, err = decodeEntry(raw); err != nil {
				return err
			}
			l.UnappliedEntries = append(l.UnappliedEntries, e)
		case fieldLogElectionTerm:
			l.ElectionTerm, err = f.asInt()
		case fieldLogElectionVotedFor:
			l.ElectionVotedFor, err = f.asString()
		case fieldLogState:
			var raw []byte
			if raw, err = f.message(); err != nil {
				return err
			}
			l.State, err = decodeState(raw)
		case fieldLogServerConfig:
			var raw []byte
			if raw, err = f.message(); err != nil {
				return err
			}
			l.ServerConfig, err = decodeServerConfig(raw)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

func decodeEntry(data []byte) (LogEntry, error) {
	var e LogEntry
	err := readFields(data, func(f field) error {
		var err error
		switch f.num {
		case fieldEntryIndex:
			e.Index, err = f.asInt()
		case fieldEntryTerm:
			e.Term, err = f.asInt()
		case fieldEntryKind:
			var k uint64
			if k, err = f.asUint(); err != nil {
				return err
			}
			if k > uint64(EntryConfiguration) {
				return corruptf("unknown entry kind %d", k)
			}
			e.Kind = EntryKind(k)
		case fieldEntryData:
			e.Data, err = f.copyBytes()
		}
		return err
	})
	return e, err
}

func decodeState(data []byte) (State, error) {
	var (
		kind    StateKind
		payload []byte
	)
	err := readFields(data, func(f field) error {
		var err error
		switch f.num {
		case fieldStateKind:
			var k uint64
			k, err = f.asUint()
			kind = StateKind(k)
		case fieldStatePayload:
			payload, err = f.message()
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindShardTree:
		return decodeTree(payload)
	default:
		return nil, corrupt(fmt.Sprintf("state kind %d", kind), ErrUnknownStateKind)
	}
}

func decodeTree(data []byte) (*TreeState, error) {
	t := &TreeState{Metadata: make(map[string]uint64)}
	var version uint64
	err := readFields(data, func(f field) error {
		var err error
		switch f.num {
		case fieldTreeVersion:
			version, err = f.asUint()
		case fieldTreeRoot:
			var raw []byte
			if raw, err = f.message(); err != nil {
				return err
			}
			t.Root, err = decodeNode(raw)
		case fieldTreeMetadata:
			var raw []byte
			if raw, err = f.message(); err != nil {
				return err
			}
			err = decodeMetadata(raw, t.Metadata)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if version != treeFormatVersion {
		return nil, corruptf("tree format version %d not supported", version)
	}
	return t, nil
}

func decodeMetadata(data []byte, into map[string]uint64) error {
	var (
		key   string
		value uint64
	)
	err := readFields(data, func(f field) error {
		var err error
		switch f.num {
		case fieldMetaKey:
			key, err = f.asString()
		case fieldMetaValue:
			value, err = f.asUint()
		}
		return err
	})
	if err != nil {
		return err
	}
	into[key] = value
	return nil
}

func decodeNode(data []byte) (*datatree.Node, error) {
	n := &datatree.Node{}
	err := readFields(data, func(f field) error {
		var err error
		switch f.num {
		case fieldNodeName:
			n.Name, err = f.asString()
		case fieldNodeValue:
			n.Value, err = f.copyBytes()
		case fieldNodeChild:
			var raw []byte
			if raw, err = f.message(); err != nil {
				return err
			}
			var c *datatree.Node
			if c, err = decodeNode(raw); err != nil {
				return err
			}
			n.Children = append(n.Children, c)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func decodeServerConfig(data []byte) (*ServerConfig, error) {
	c := &ServerConfig{}
	err := readFields(data, func(f field) error {
		if f.num != fieldConfigServer {
			return nil
		}
		raw, err := f.message()
		if err != nil {
			return err
		}
		var s ServerInfo
		err = readFields(raw, func(f field) error {
			var err error
			switch f.num {
			case fieldServerID:
				s.ID, err = f.asString()
			case fieldServerAddress:
				s.Address, err = f.asString()
			case fieldServerVoting:
				var v uint64
				v, err = f.asUint()
				s.Voting = v != 0
			}
			return err
		})
		if err != nil {
			return err
		}
		c.Servers = append(c.Servers, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
