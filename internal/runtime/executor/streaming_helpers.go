package executor

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sync"

	log "github.com/inferkit/inferkit/internal/logging"
	"github.com/inferkit/inferkit/internal/translator/ir"
)

// scannerBufferPool pools scanner buffers so each streaming request reuses a
// 64KB buffer instead of allocating a new one.
var scannerBufferPool = sync.Pool{
	New: func() any {
		return make([]byte, DefaultScannerBufferSize)
	},
}

// StreamItem is one element of the event channel: either a unified event or a
// terminal error. After an Err item the channel is closed.
type StreamItem struct {
	Event ir.UnifiedEvent
	Err   error
}

// StreamConfig configures RunSSEStream.
type StreamConfig struct {
	// Name identifies the stream for logging.
	Name string

	// MaxBufferSize caps the scanner buffer (default DefaultStreamBufferSize).
	MaxBufferSize int

	// ChannelBuffer sizes the output channel (default 8).
	ChannelBuffer int
}

// RunSSEStream pumps an SSE body through a converter and emits unified events.
// Each scanned line goes to converter.Convert; at EOF converter.Finalize runs
// so the terminal event is always produced. The body is closed when the pump
// goroutine exits, and the channel is closed after the last item.
func RunSSEStream(ctx context.Context, body io.ReadCloser, converter ir.StreamConverter, cfg StreamConfig) <-chan StreamItem {
	chanSize := cfg.ChannelBuffer
	if chanSize <= 0 {
		chanSize = 8
	}
	out := make(chan StreamItem, chanSize)

	go func() {
		defer close(out)
		defer func() {
			if errClose := body.Close(); errClose != nil {
				log.Debugf("%s: close response body: %v", cfg.Name, errClose)
			}
		}()

		buf := scannerBufferPool.Get().([]byte)
		defer scannerBufferPool.Put(buf)

		scanner := bufio.NewScanner(body)
		maxBufferSize := cfg.MaxBufferSize
		if maxBufferSize == 0 {
			maxBufferSize = DefaultStreamBufferSize
		}
		scanner.Buffer(buf, maxBufferSize)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}

			// The converter owns the line only for the duration of the call;
			// clone so scanner buffer reuse cannot corrupt retained slices.
			events, err := converter.Convert(bytes.Clone(line))
			if err != nil {
				sendItem(ctx, out, StreamItem{Err: err})
				return
			}
			for i := range events {
				if !sendItem(ctx, out, StreamItem{Event: events[i]}) {
					return
				}
			}
		}

		if errScan := scanner.Err(); errScan != nil {
			sendItem(ctx, out, StreamItem{Err: &TransportError{Op: "read stream", Err: errScan}})
			return
		}

		for _, event := range converter.Finalize() {
			if !sendItem(ctx, out, StreamItem{Event: event}) {
				return
			}
		}
	}()

	return out
}

func sendItem(ctx context.Context, out chan<- StreamItem, item StreamItem) bool {
	select {
	case out <- item:
		return true
	case <-ctx.Done():
		return false
	}
}
