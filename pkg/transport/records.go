package transport

import (
	"bufio"
	"bytes"
	"io"
)

// recordReader decodes a chunked event stream into records. It accepts both
// SSE framing ("data: {...}" lines separated by blank lines) and bare
// newline-delimited JSON. An incomplete trailing line stays buffered until the
// next read completes it.
type recordReader struct {
	r   *bufio.Reader
	buf [][]byte
}

func newRecordReader(r io.Reader) *recordReader {
	return &recordReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next record payload, or io.EOF at the end of the stream.
func (d *recordReader) Next() ([]byte, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		line = bytes.TrimRight(line, "\r\n")

		switch {
		case len(line) == 0:
			if out := d.flush(); out != nil {
				return out, nil
			}
		case bytes.HasPrefix(line, []byte("data:")):
			d.buf = append(d.buf, bytes.TrimSpace(line[len("data:"):]))
		case line[0] == ':' || bytes.HasPrefix(line, []byte("event:")) ||
			bytes.HasPrefix(line, []byte("id:")) || bytes.HasPrefix(line, []byte("retry:")):
			// SSE control lines carry nothing we use.
		default:
			// NDJSON record; completes any pending SSE record first.
			if out := d.flush(); out != nil {
				d.buf = append(d.buf, append([]byte(nil), line...))
				return out, nil
			}
			return append([]byte(nil), line...), nil
		}

		if err == io.EOF {
			if out := d.flush(); out != nil {
				return out, nil
			}
			return nil, io.EOF
		}
	}
}

func (d *recordReader) flush() []byte {
	if len(d.buf) == 0 {
		return nil
	}
	out := bytes.Join(d.buf, []byte("\n"))
	d.buf = d.buf[:0]
	return out
}
