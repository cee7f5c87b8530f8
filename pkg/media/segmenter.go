package media

import (
	"bytes"
	"io"
	"sync"
	"time"
)

const readChunkSize = 32 * 1024

// segmenter reads an encoded stream and hands it out in time-sliced
// segments. A zero interval emits every read as its own segment.
type segmenter struct {
	r         io.Reader
	interval  time.Duration
	onSegment func([]byte)

	mu  sync.Mutex
	buf bytes.Buffer

	done chan struct{}
	err  error
}

func newSegmenter(r io.Reader, interval time.Duration, onSegment func([]byte)) *segmenter {
	if onSegment == nil {
		onSegment = func([]byte) {}
	}
	return &segmenter{
		r:         r,
		interval:  interval,
		onSegment: onSegment,
		done:      make(chan struct{}),
	}
}

// run reads until EOF or a read error, then flushes what is left and
// closes done. Err is valid after done is closed.
func (s *segmenter) run() {
	defer close(s.done)

	var stopTicker chan struct{}
	var tickerDone chan struct{}
	if s.interval > 0 {
		stopTicker = make(chan struct{})
		tickerDone = make(chan struct{})
		go func() {
			defer close(tickerDone)
			t := time.NewTicker(s.interval)
			defer t.Stop()
			for {
				select {
				case <-stopTicker:
					return
				case <-t.C:
					s.flush()
				}
			}
		}()
	}

	chunk := make([]byte, readChunkSize)
	for {
		n, err := s.r.Read(chunk)
		if n > 0 {
			if s.interval > 0 {
				s.mu.Lock()
				s.buf.Write(chunk[:n])
				s.mu.Unlock()
			} else {
				seg := make([]byte, n)
				copy(seg, chunk[:n])
				s.onSegment(seg)
			}
		}
		if err != nil {
			if err != io.EOF {
				s.err = err
			}
			break
		}
	}

	if stopTicker != nil {
		close(stopTicker)
		<-tickerDone
	}
	s.flush()
}

func (s *segmenter) flush() {
	s.mu.Lock()
	if s.buf.Len() == 0 {
		s.mu.Unlock()
		return
	}
	seg := make([]byte, s.buf.Len())
	copy(seg, s.buf.Bytes())
	s.buf.Reset()
	s.mu.Unlock()
	s.onSegment(seg)
}
