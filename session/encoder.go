package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const mfaSessionFormatV1 = 1

const flagLocked = 1 << 0

var errSessionCorrupt = errors.New("mfa session record corrupt")

// Encode serialises s into the versioned binary record format.
func Encode(s *MfaSession) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil mfa session")
	}
	if len(s.UserID) > 65535 {
		return nil, errors.New("mfa session user id too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(mfaSessionFormatV1)

	var flags byte
	if s.Locked {
		flags |= flagLocked
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, s.Failures); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt.UnixNano()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt.UnixNano()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(s.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(s.UserID)

	return buf.Bytes(), nil
}

// Decode parses a record produced by Encode. The session ID is not part of
// the record and must be set by the caller.
func Decode(data []byte) (*MfaSession, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, errSessionCorrupt
	}
	if version != mfaSessionFormatV1 {
		return nil, errors.New("unsupported mfa session version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, errSessionCorrupt
	}

	s := &MfaSession{Locked: flags&flagLocked != 0}
	if err := binary.Read(reader, binary.BigEndian, &s.Failures); err != nil {
		return nil, errSessionCorrupt
	}

	var created, expires int64
	if err := binary.Read(reader, binary.BigEndian, &created); err != nil {
		return nil, errSessionCorrupt
	}
	if err := binary.Read(reader, binary.BigEndian, &expires); err != nil {
		return nil, errSessionCorrupt
	}
	s.CreatedAt = time.Unix(0, created).UTC()
	s.ExpiresAt = time.Unix(0, expires).UTC()

	var userLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userLen); err != nil {
		return nil, errSessionCorrupt
	}
	user := make([]byte, userLen)
	if _, err := io.ReadFull(reader, user); err != nil {
		return nil, errSessionCorrupt
	}
	s.UserID = string(user)

	if reader.Len() != 0 {
		return nil, errSessionCorrupt
	}
	return s, nil
}
