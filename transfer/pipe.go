package transfer

import (
	"context"
	"sync"

	"github.com/moyoez/readersync/types"
)

type pipeState struct {
	once   sync.Once
	closed chan struct{}
}

// PipeEnd is one side of an in-memory Channel pair.
type PipeEnd struct {
	in    <-chan types.Frame
	out   chan<- types.Frame
	state *pipeState
}

// Pipe returns two connected channels. Closing either end breaks both, like a dropped connection.
func Pipe() (*PipeEnd, *PipeEnd) {
	ab := make(chan types.Frame, 16)
	ba := make(chan types.Frame, 16)
	st := &pipeState{closed: make(chan struct{})}
	return &PipeEnd{in: ba, out: ab, state: st}, &PipeEnd{in: ab, out: ba, state: st}
}

func (p *PipeEnd) Send(ctx context.Context, frame types.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-p.state.closed:
		return types.NetworkError("", ErrClosed)
	default:
	}
	select {
	case p.out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.state.closed:
		return types.NetworkError("", ErrClosed)
	}
}

func (p *PipeEnd) Receive(ctx context.Context) (types.Frame, error) {
	select {
	case f := <-p.in:
		return f, nil
	default:
	}
	select {
	case f := <-p.in:
		return f, nil
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	case <-p.state.closed:
		return types.Frame{}, types.NetworkError("", ErrClosed)
	}
}

func (p *PipeEnd) Close() error {
	p.state.once.Do(func() { close(p.state.closed) })
	return nil
}
