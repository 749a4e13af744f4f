// Package graphbundle implements SerializedGraphBundle (spec.md §4.D): the
// versioned, multi-file, content-addressed on-disk representation of a
// fully constructed pip graph. Every file shares the same envelope format
// (spec.md §6): a magic number, a length-prefixed name, a version (whose
// high bit records whether the body is flate-compressed, continuing
// mutagen's pkg/compression flate wrapping per SPEC_FULL.md §4.D), a
// 16-byte atomic save token, and a CRC-32 checksum over everything before
// it.
package graphbundle

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/buildcore/pipcache/pkg/compression"
)

// envelopeMagic identifies a graphbundle file.
const envelopeMagic uint32 = 0x70634247 // "pcBG"

// compressedBit is the high bit of the version field, set when the body
// that follows the envelope is flate-compressed.
const compressedBit uint32 = 1 << 31

// Envelope is the fixed header written before every bundle file's body.
type Envelope struct {
	Name        string
	Version     uint32
	AtomicToken [16]byte
	Compressed  bool
}

// WriteEnvelope writes magic, name, version (with the compression bit
// folded in), and the atomic token, followed by body, ending with a CRC-32
// checksum of everything written before it, the magic number included. If compress is
// true, body is flate-compressed before writing (via pkg/compression,
// continuing mutagen's own flate wrapping idiom).
func WriteEnvelope(w io.Writer, env Envelope, body []byte) error {
	version := env.Version
	if env.Compressed {
		version |= compressedBit
	}

	checksumBuf := newChecksummingWriter(w)

	if err := binary.Write(checksumBuf, binary.BigEndian, envelopeMagic); err != nil {
		return err
	}
	if err := writeLengthPrefixedString(checksumBuf, env.Name); err != nil {
		return err
	}
	if err := binary.Write(checksumBuf, binary.BigEndian, version); err != nil {
		return err
	}
	if _, err := checksumBuf.Write(env.AtomicToken[:]); err != nil {
		return err
	}

	encodedBody := body
	if env.Compressed {
		var buf writeBuffer
		compressor := compression.NewCompressingWriter(&buf)
		if _, err := compressor.Write(body); err != nil {
			return fmt.Errorf("unable to compress body: %w", err)
		}
		encodedBody = buf.Bytes()
	}
	if err := binary.Write(checksumBuf, binary.BigEndian, uint32(len(encodedBody))); err != nil {
		return err
	}
	if _, err := checksumBuf.Write(encodedBody); err != nil {
		return err
	}

	checksum := checksumBuf.Sum()
	return binary.Write(w, binary.BigEndian, checksum)
}

// ReadEnvelope reads and verifies an envelope plus its body, decompressing
// the body if the version's high bit is set. A checksum mismatch, bad
// magic, or unexpected version returns an error; per spec.md §4.D this is
// equivalent to "no previous run," never a hard failure, and callers should
// treat it that way.
func ReadEnvelope(r io.Reader, expectedVersion uint32) (Envelope, []byte, error) {
	checksumBuf := newChecksummingReader(r)

	var magic uint32
	if err := binary.Read(checksumBuf, binary.BigEndian, &magic); err != nil {
		return Envelope{}, nil, err
	}
	if magic != envelopeMagic {
		return Envelope{}, nil, fmt.Errorf("bad envelope magic: %x", magic)
	}

	name, err := readLengthPrefixedString(checksumBuf)
	if err != nil {
		return Envelope{}, nil, err
	}

	var version uint32
	if err := binary.Read(checksumBuf, binary.BigEndian, &version); err != nil {
		return Envelope{}, nil, err
	}
	compressed := version&compressedBit != 0
	plainVersion := version &^ compressedBit
	if plainVersion != expectedVersion {
		return Envelope{}, nil, fmt.Errorf("unsupported envelope version: %d (expected %d)", plainVersion, expectedVersion)
	}

	var token [16]byte
	if _, err := io.ReadFull(checksumBuf, token[:]); err != nil {
		return Envelope{}, nil, err
	}

	var bodyLen uint32
	if err := binary.Read(checksumBuf, binary.BigEndian, &bodyLen); err != nil {
		return Envelope{}, nil, err
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(checksumBuf, body); err != nil {
		return Envelope{}, nil, err
	}

	var wantChecksum uint32
	if err := binary.Read(r, binary.BigEndian, &wantChecksum); err != nil {
		return Envelope{}, nil, err
	}
	if checksumBuf.Sum() != wantChecksum {
		return Envelope{}, nil, fmt.Errorf("envelope checksum mismatch for %q", name)
	}

	if compressed {
		decompressed, err := io.ReadAll(compression.NewDecompressingReader(newByteReader(body)))
		if err != nil {
			return Envelope{}, nil, fmt.Errorf("unable to decompress body: %w", err)
		}
		body = decompressed
	}

	return Envelope{Name: name, Version: plainVersion, AtomicToken: token, Compressed: compressed}, body, nil
}

func writeLengthPrefixedString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readLengthPrefixedString(r io.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// checksummingWriter tees every write through a running CRC-32 checksum.
type checksummingWriter struct {
	w        io.Writer
	checksum uint32
}

func newChecksummingWriter(w io.Writer) *checksummingWriter {
	return &checksummingWriter{w: w}
}

func (c *checksummingWriter) Write(p []byte) (int, error) {
	c.checksum = crc32.Update(c.checksum, crc32.IEEETable, p)
	return c.w.Write(p)
}

func (c *checksummingWriter) Sum() uint32 { return c.checksum }

// checksummingReader tees every read through a running CRC-32 checksum.
type checksummingReader struct {
	r        io.Reader
	checksum uint32
}

func newChecksummingReader(r io.Reader) *checksummingReader {
	return &checksummingReader{r: r}
}

func (c *checksummingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.checksum = crc32.Update(c.checksum, crc32.IEEETable, p[:n])
	}
	return n, err
}

func (c *checksummingReader) Sum() uint32 { return c.checksum }

// writeBuffer is a tiny io.Writer that accumulates bytes, avoiding a direct
// bytes.Buffer dependency in this file's otherwise low-level byte-plumbing
// code.
type writeBuffer struct {
	data []byte
}

func (b *writeBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *writeBuffer) Bytes() []byte { return b.data }

type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader { return &byteReader{data: data} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
