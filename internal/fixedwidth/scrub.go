// Package fixedwidth decodes the two fixed-width shapes found in National
// Caseload Data archives: README-offset tables and dash-divider tables.
package fixedwidth

import "io"

// NewCRScrubber wraps r so that every carriage return is read as a space.
//
// Some district files carry stray CR bytes inside records. Replacing them
// one-for-one keeps every byte offset intact while stopping line splitters from
// seeing a second terminator.
func NewCRScrubber(r io.Reader) io.Reader {
	return &crScrubber{r: r}
}

type crScrubber struct {
	r io.Reader
}

func (s *crScrubber) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	for i := 0; i < n; i++ {
		if p[i] == '\r' {
			p[i] = ' '
		}
	}
	return n, err
}

// WrapCRScrub is NewCRScrubber for ReadClosers; Close reaches the original.
func WrapCRScrub(rc io.ReadCloser) io.ReadCloser {
	type readCloser struct {
		io.Reader
		io.Closer
	}
	return &readCloser{Reader: NewCRScrubber(rc), Closer: rc}
}
