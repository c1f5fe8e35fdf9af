package email

import (
	"io"
)

const defaultBufSize = 4096

// separator is "\nFrom " reversed: the scanner walks the file backwards.
var separator = []byte(" morF\n")

// reverseScanner extracts mbox messages starting from the end of the file,
// reading it backwards one buffer at a time. Only the messages close to the
// end of the file are ever read, however large the mailbox.
type reverseScanner struct {
	r io.ReadSeeker
	// bytesLeft is how many bytes, counted from the start of the file, have
	// not been scanned yet. The stream position is kept equal to it between
	// calls to next.
	bytesLeft int64
	buf       []byte
}

func newReverseScanner(r io.ReadSeeker, bufSize int) (*reverseScanner, error) {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	return &reverseScanner{r: r, bytesLeft: end, buf: make([]byte, bufSize)}, nil
}

// next returns the message preceding the previously returned one, in
// forward byte order, starting with "From ". The newline separating it from
// the following message is not included. io.EOF means the start of the file
// was reached.
func (s *reverseScanner) next() ([]byte, error) {
	var msg []byte
	sepIdx := 0

	for {
		if s.bytesLeft == 0 {
			return nil, io.EOF
		}
		chunk, err := s.readChunk()
		if err != nil {
			return nil, err
		}

		for i, b := range chunk {
			byteMatches := b == separator[sepIdx]
			matched := false
			switch {
			case byteMatches && sepIdx == len(separator)-1:
				// Separator in the middle of the file. The trailing '\n' (in
				// file order, the one before "From ") belongs to nobody.
				msg = append(msg, chunk[:i]...)
				matched = true
			case byteMatches && sepIdx == len(separator)-2 && s.bytesLeft-int64(i+1) == 0:
				// "From " at the very start of the file: there is no
				// leading newline to require.
				msg = append(msg, chunk[:i+1]...)
				matched = true
			}
			if matched {
				reverseBytes(msg)
				s.bytesLeft -= int64(i + 1)
				if _, err := s.r.Seek(s.bytesLeft, io.SeekStart); err != nil {
					return nil, err
				}
				return msg, nil
			}

			switch {
			case byteMatches:
				sepIdx++
			case b == separator[0]:
				sepIdx = 1
			default:
				sepIdx = 0
			}
		}

		msg = append(msg, chunk...)
		s.bytesLeft -= int64(len(chunk))
	}
}

// readChunk reads the (up to) len(buf) bytes just before the current
// position, leaves the position at the start of what was read, and returns
// the bytes reversed.
func (s *reverseScanner) readChunk() ([]byte, error) {
	n := int64(len(s.buf))
	if s.bytesLeft < n {
		n = s.bytesLeft
	}
	chunk := s.buf[:n]
	if _, err := s.r.Seek(-n, io.SeekCurrent); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(s.r, chunk); err != nil {
		return nil, err
	}
	// Reading moved us forward again; go back where the chunk starts.
	if _, err := s.r.Seek(-n, io.SeekCurrent); err != nil {
		return nil, err
	}
	reverseBytes(chunk)
	return chunk, nil
}

func reverseBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
