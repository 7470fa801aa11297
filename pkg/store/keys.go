package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/0xmhha/token-rollup/pkg/bucket"
	"github.com/0xmhha/token-rollup/pkg/parser"
)

// Bucket keys are start(8 bytes, big endian, sign flipped) + provider +
// 0x00 + session id, so a cursor walks them in (start, provider, session)
// order and can seek straight to the first bucket of a range.
const startLen = 8

func encodeStart(t time.Time) []byte {
	buf := make([]byte, startLen)
	binary.BigEndian.PutUint64(buf, uint64(t.Unix())^(1<<63))
	return buf
}

func decodeStart(b []byte) time.Time {
	return time.Unix(int64(binary.BigEndian.Uint64(b)^(1<<63)), 0).UTC()
}

func encodeBucketKey(k bucket.Key) []byte {
	buf := make([]byte, 0, startLen+len(k.Provider)+1+len(k.SessionID))
	buf = append(buf, encodeStart(k.Start)...)
	buf = append(buf, k.Provider...)
	buf = append(buf, 0)
	buf = append(buf, k.SessionID...)
	return buf
}

func decodeBucketKey(b []byte) (bucket.Key, error) {
	if len(b) < startLen+1 {
		return bucket.Key{}, fmt.Errorf("%w: bucket key too short (%d bytes)", ErrCorruptRecord, len(b))
	}
	rest := b[startLen:]
	sep := bytes.IndexByte(rest, 0)
	if sep < 0 {
		return bucket.Key{}, fmt.Errorf("%w: bucket key without separator", ErrCorruptRecord)
	}
	return bucket.Key{
		Start:     decodeStart(b[:startLen]),
		Provider:  parser.Provider(rest[:sep]),
		SessionID: string(rest[sep+1:]),
	}, nil
}
