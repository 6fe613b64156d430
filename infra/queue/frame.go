package queue

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const frameHeaderSize = 8

// ErrCorrupt reports a damaged frame that cannot be explained by a torn
// final write.
var ErrCorrupt = errors.New("queue: corrupt record")

type frame struct {
	offset  int64
	payload []byte
}

func checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

func encodeFrame(payload []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[4:8], checksum(payload))
	copy(buf[frameHeaderSize:], payload)
	return buf
}

// scanFrames walks the frames of a queue file of the given size and returns
// the complete ones plus the number of bytes they cover. Anything after that
// offset is a torn tail.
func scanFrames(r io.Reader, size int64) ([]frame, int64, error) {
	br := bufio.NewReader(r)
	var (
		frames     []frame
		validBytes int64
		header     [frameHeaderSize]byte
	)
	for {
		if _, err := io.ReadFull(br, header[:]); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				return frames, validBytes, nil
			}
			return nil, 0, err
		}
		payloadLen := int64(binary.LittleEndian.Uint32(header[:4]))
		end := validBytes + frameHeaderSize + payloadLen
		if end > size {
			// Declared length runs past the end of the file. That is a torn
			// final write unless a complete frame still follows the header.
			rest, err := io.ReadAll(io.LimitReader(br, size-validBytes-frameHeaderSize))
			if err != nil {
				return nil, 0, err
			}
			if off := findFrame(rest); off >= 0 {
				return nil, 0, fmt.Errorf("%w at offset %d: length %d overruns frame at offset %d",
					ErrCorrupt, validBytes, payloadLen, validBytes+frameHeaderSize+int64(off))
			}
			return frames, validBytes, nil
		}
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(br, payload); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				return frames, validBytes, nil
			}
			return nil, 0, err
		}
		if checksum(payload) != binary.LittleEndian.Uint32(header[4:]) {
			if end == size {
				return frames, validBytes, nil
			}
			return nil, 0, fmt.Errorf("%w at offset %d", ErrCorrupt, validBytes)
		}
		frames = append(frames, frame{offset: validBytes, payload: payload})
		validBytes = end
	}
}

// findFrame returns the offset of the first complete, checksummed, non-empty
// frame in b, or -1. Empty frames are skipped: eight zero bytes decode as
// one, and zero fill is what a crash often leaves behind.
func findFrame(b []byte) int {
	for off := 0; off+frameHeaderSize < len(b); off++ {
		n := int(binary.LittleEndian.Uint32(b[off : off+4]))
		if n == 0 || n > len(b)-off-frameHeaderSize {
			continue
		}
		payload := b[off+frameHeaderSize : off+frameHeaderSize+n]
		if checksum(payload) == binary.LittleEndian.Uint32(b[off+4:off+8]) {
			return off
		}
	}
	return -1
}
