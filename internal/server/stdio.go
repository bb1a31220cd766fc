package server

import (
	"bufio"
	"context"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/webharvest/webharvest-mcp/internal/mcp"
)

// stdioMaxLine bounds one newline-delimited frame on stdin.
const stdioMaxLine = 10 << 20

// RunStdio drives the runtime over newline-delimited JSON-RPC. The
// process serves exactly one implicit session: the first initialize binds
// it and later frames use it without carrying an id. No host or origin
// checks apply. Returns when stdin closes or ctx is cancelled.
//
// Stdout is protocol: callers must route logging to stderr or a file
// before starting this loop.
func RunStdio(ctx context.Context, rt *mcp.Runtime, in io.Reader, out io.Writer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	var writeMu sync.Mutex
	writeFrame := func(payload []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := out.Write(payload); err != nil {
			return err
		}
		_, err := out.Write([]byte("\n"))
		return err
	}

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64<<10), stdioMaxLine)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
		close(lines)
	}()

	sessionID := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if len(line) == 0 {
				continue
			}

			resp, sess := rt.HandleFrame(ctx, sessionID, line)
			if sess != nil {
				sessionID = sess.ID
				events, unsubscribe := sess.Subscribe()
				go func() {
					defer unsubscribe()
					for {
						select {
						case <-sess.Context().Done():
							return
						case ev := <-events:
							if err := writeFrame(ev.Message); err != nil {
								return
							}
						}
					}
				}()
			}
			if resp == nil {
				continue
			}
			payload, err := marshalResponse(resp)
			if err != nil {
				logger.Warn("encoding stdio response failed", zap.Error(err))
				continue
			}
			if err := writeFrame(payload); err != nil {
				return err
			}
		}
	}
}
