package conversion

import "context"

// chunkBuffer bounds how far generation may run ahead of the consumer.
const chunkBuffer = 4

// Stream is a running conversion. Chunks delivers encoded chunks as they are
// produced; Wait returns the complete result once generation ends.
type Stream struct {
	source chan string
	chunks chan Chunk
	done   chan struct{}
	result Result
	err    error
}

// Start runs req in the background. The caller must drain Chunks or cancel
// ctx; an abandoned stream stops at the next chunk once ctx is done.
func (p *Pipeline) Start(ctx context.Context, req Request) *Stream {
	s := &Stream{
		source: make(chan string, 1),
		chunks: make(chan Chunk, chunkBuffer),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.chunks)
		defer close(s.source)
		s.result, s.err = p.Convert(ctx, req, Handlers{
			Source: func(path string) {
				s.source <- path
			},
			Chunk: func(c Chunk) error {
				select {
				case s.chunks <- c:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		})
	}()
	return s
}

// Source yields the source audio path once, or closes without a value when
// acquisition failed.
func (s *Stream) Source() <-chan string { return s.source }

// Chunks is closed when the conversion ends.
func (s *Stream) Chunks() <-chan Chunk { return s.chunks }

// Done is closed when the result is available.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Wait blocks until the conversion ends and returns its result.
func (s *Stream) Wait() (Result, error) {
	<-s.done
	return s.result, s.err
}
