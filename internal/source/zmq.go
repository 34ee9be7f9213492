package source

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/gomd/pkg/log"
)

// BlockWatcher subscribes to Bitcoin Core's hashblock ZMQ notifications.
// Every new block invalidates all outstanding device work.
type BlockWatcher struct {
	socket   *zmq.Socket
	endpoint string
	logger   *log.Logger
	onBlock  func(blockHash string)
}

// NewBlockWatcher creates a watcher; Run connects and listens.
func NewBlockWatcher(endpoint string, logger *log.Logger, onBlock func(blockHash string)) (*BlockWatcher, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}

	return &BlockWatcher{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger.WithComponent("blockwatcher"),
		onBlock:  onBlock,
	}, nil
}

// Run connects, subscribes to hashblock and listens until ctx is canceled.
func (w *BlockWatcher) Run(ctx context.Context) error {
	if err := w.socket.Connect(w.endpoint); err != nil {
		return fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", w.endpoint, err)
	}
	if err := w.socket.SetSubscribe("hashblock"); err != nil {
		return fmt.Errorf("failed to subscribe to hashblock: %w", err)
	}
	w.logger.Info("watching for new blocks", "endpoint", w.endpoint)

	poller := zmq.NewPoller()
	poller.Add(w.socket, zmq.POLLIN)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("block watcher stopping")
			return ctx.Err()
		default:
		}

		ready, err := poller.Poll(500 * time.Millisecond)
		if err != nil {
			w.logger.Error("ZMQ poll failed", "error", err.Error())
			continue
		}
		if len(ready) == 0 {
			continue
		}

		msg, err := w.socket.RecvMessageBytes(0)
		if err != nil {
			w.logger.Error("failed to receive ZMQ message", "error", err.Error())
			continue
		}
		if len(msg) < 2 {
			w.logger.Warn("received malformed ZMQ message", "parts", len(msg))
			continue
		}

		topic := string(msg[0])
		data := msg[1]
		if topic != "hashblock" {
			continue
		}
		if len(data) != 32 {
			w.logger.Warn("invalid block hash length", "length", len(data))
			continue
		}

		// Hash arrives in internal byte order; reverse for display.
		reversed := make([]byte, len(data))
		for i := range data {
			reversed[i] = data[len(data)-1-i]
		}
		blockHash := hex.EncodeToString(reversed)

		w.logger.Info("new block notification", "hash", blockHash)
		if w.onBlock != nil {
			w.onBlock(blockHash)
		}
	}
}

// Close closes the ZMQ socket.
func (w *BlockWatcher) Close() error {
	if w.socket != nil {
		return w.socket.Close()
	}
	return nil
}
