// Package protocol implements the self-describing binary frame format for mini-irc.
//
// Every frame carries three variable-length fields: a handler tag that selects
// routing, an opaque header, and an opaque payload. Each field is preceded by
// its length as an unsigned 64-bit big-endian integer:
//
//	0        8        16       24
//	┌────────┬────────┬────────┬─────────────────┬──────────────┬───────────────┐
//	│ hlen Q │ hdrl Q │ payl Q │ handler (UTF-8) │ header bytes │ payload bytes │
//	└────────┴────────┴────────┴─────────────────┴──────────────┴───────────────┘
//
// There is no magic number, no version and no checksum: frames are delimited
// solely by their declared lengths and concatenate freely on the wire. The
// receiver reads the fixed 24-byte prefix first, then exactly the declared
// number of body bytes, which handles TCP coalescing (several frames in one
// receive) and fragmentation (one frame split across receives) in one place.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	// PrefixSize is the fixed size of the three length fields.
	PrefixSize = 24

	// MaxFieldSize caps each declared field length. A peer declaring more is
	// treated as malformed instead of being trusted with the allocation.
	MaxFieldSize = 16 << 20 // 16 MiB
)

var (
	// ErrFrameTooLarge reports a declared field length above MaxFieldSize.
	ErrFrameTooLarge = errors.New("protocol: declared field length exceeds limit")

	// ErrTruncated reports a stream that ended in the middle of a frame.
	ErrTruncated = errors.New("protocol: truncated frame")
)

// Frame is one unit on the wire. Handler selects routing on the receiving
// side; Header and Payload are opaque at this layer and interpreted per tag
// by the message catalogue.
type Frame struct {
	Handler string
	Header  []byte
	Payload []byte
}

// Encode writes f to w as a single buffer, prefix and body together.
// The caller must serialize access to w if multiple goroutines share it,
// otherwise frames from different writers will interleave on the stream.
func Encode(w io.Writer, f *Frame) error {
	handler := []byte(f.Handler)
	if len(handler) > MaxFieldSize || len(f.Header) > MaxFieldSize || len(f.Payload) > MaxFieldSize {
		return ErrFrameTooLarge
	}

	buf := make([]byte, PrefixSize+len(handler)+len(f.Header)+len(f.Payload))
	binary.BigEndian.PutUint64(buf[0:8], uint64(len(handler)))
	binary.BigEndian.PutUint64(buf[8:16], uint64(len(f.Header)))
	binary.BigEndian.PutUint64(buf[16:24], uint64(len(f.Payload)))

	n := PrefixSize
	n += copy(buf[n:], handler)
	n += copy(buf[n:], f.Header)
	copy(buf[n:], f.Payload)

	_, err := w.Write(buf)
	return err
}

// Decode reads exactly one frame from r using io.ReadFull, so partial TCP
// reads never surface as partial frames. A clean EOF on a frame boundary is
// reported as io.EOF; EOF inside a frame is ErrTruncated.
func Decode(r io.Reader) (*Frame, error) {
	prefix := make([]byte, PrefixSize)
	if _, err := io.ReadFull(r, prefix); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: stream ended inside length prefix", ErrTruncated)
		}
		return nil, err
	}

	hlen := binary.BigEndian.Uint64(prefix[0:8])
	hdrl := binary.BigEndian.Uint64(prefix[8:16])
	payl := binary.BigEndian.Uint64(prefix[16:24])
	if hlen > MaxFieldSize || hdrl > MaxFieldSize || payl > MaxFieldSize {
		return nil, fmt.Errorf("%w: handler=%d header=%d payload=%d", ErrFrameTooLarge, hlen, hdrl, payl)
	}

	body := make([]byte, hlen+hdrl+payl)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: stream ended inside frame body", ErrTruncated)
	}

	// Malformed UTF-8 in the handler tag is replaced, never fatal. Such a tag
	// simply fails to match any catalogue entry and is routed as unknown.
	handler := string(body[:hlen])
	if !utf8.ValidString(handler) {
		handler = strings.ToValidUTF8(handler, string(utf8.RuneError))
	}

	return &Frame{
		Handler: handler,
		Header:  body[hlen : hlen+hdrl],
		Payload: body[hlen+hdrl:],
	}, nil
}
