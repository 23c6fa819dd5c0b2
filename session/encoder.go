package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"
)

// CurrentSchemaVersion is written as the first byte of every record.
const CurrentSchemaVersion uint8 = 1

const (
	maxFieldLen = 64 * 1024
	maxDataKeys = 256
)

// ErrUnsupportedSchema is returned by Decode for unknown version bytes.
var ErrUnsupportedSchema = errors.New("unsupported session schema version")

// Encode serializes s. The session ID is the Redis key and is not stored.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(CurrentSchemaVersion)

	for _, f := range []string{s.TenantID, s.Principal, s.UserType, s.FullName, s.Device, s.Country, s.IP, s.CSRFToken} {
		if err := writeString(&buf, f); err != nil {
			return nil, err
		}
	}

	for _, ts := range []int64{
		s.CreatedAt.UnixMilli(),
		s.LastActivity.UnixMilli(),
		s.ExpiresAt.UnixMilli(),
		s.TTL.Milliseconds(),
	} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	if len(s.Data) > maxDataKeys {
		return nil, fmt.Errorf("session data has %d keys, limit %d", len(s.Data), maxDataKeys)
	}
	keys := make([]string, 0, len(s.Data))
	for k := range s.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	writeUvarint(&buf, uint64(len(keys)))
	for _, k := range keys {
		if err := writeString(&buf, k); err != nil {
			return nil, err
		}
		if err := writeString(&buf, s.Data[k]); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (*Session, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSchema, version)
	}

	s := &Session{SchemaVersion: version}
	for _, dst := range []*string{&s.TenantID, &s.Principal, &s.UserType, &s.FullName, &s.Device, &s.Country, &s.IP, &s.CSRFToken} {
		if *dst, err = readString(r); err != nil {
			return nil, err
		}
	}

	var stamps [4]int64
	for i := range stamps {
		if err := binary.Read(r, binary.BigEndian, &stamps[i]); err != nil {
			return nil, err
		}
	}
	s.CreatedAt = time.UnixMilli(stamps[0])
	s.LastActivity = time.UnixMilli(stamps[1])
	s.ExpiresAt = time.UnixMilli(stamps[2])
	s.TTL = time.Duration(stamps[3]) * time.Millisecond

	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > maxDataKeys {
		return nil, errors.New("session data key count out of range")
	}
	if n > 0 {
		s.Data = make(map[string]string, n)
	}
	for i := uint64(0); i < n; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readString(r)
		if err != nil {
			return nil, err
		}
		s.Data[k] = v
	}

	if r.Len() != 0 {
		return nil, errors.New("trailing bytes in session record")
	}
	return s, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	buf.Write(tmp[:binary.PutUvarint(tmp[:], v)])
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > maxFieldLen {
		return errors.New("session field too long")
	}
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	if n > maxFieldLen || n > uint64(r.Len()) {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
