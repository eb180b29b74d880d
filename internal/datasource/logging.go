/*
 *
 * Copyright 2025 The ringbus authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package datasource

import (
	"log/slog"
	"sync"

	"github.com/daqlab/ringbus/internal/logging"
	"github.com/daqlab/ringbus/internal/ringitem"
)

// Logging wraps a Source, logs each consuming request and keeps a copy of
// every chunk it handed out. A ringitem.Reader reads each record with a
// single Read, so under a Reader every chunk is one whole record and Items
// returns them decoded.
type Logging struct {
	src    Source
	logger *slog.Logger

	mu     sync.Mutex
	chunks [][]byte
}

// NewLogging wraps src.
func NewLogging(src Source, logger *slog.Logger) *Logging {
	return &Logging{src: src, logger: logging.OrDefault(logger).With("component", "source-log")}
}

func (l *Logging) Read(buf []byte) (int, error) {
	n, err := l.src.Read(buf)
	if err != nil {
		l.logger.Debug("Read failed", "want", len(buf), "position", l.src.Position(), "error", err)
		return n, err
	}
	l.logger.Debug("Read", "bytes", n, "position", l.src.Position())
	l.mu.Lock()
	l.chunks = append(l.chunks, append([]byte(nil), buf[:n]...))
	l.mu.Unlock()
	return n, nil
}

func (l *Logging) Peek(buf []byte) (int, error) { return l.src.Peek(buf) }

func (l *Logging) Ignore(n int) error {
	err := l.src.Ignore(n)
	l.logger.Debug("Ignore", "bytes", n, "error", err)
	return err
}

func (l *Logging) Available() (int, error) { return l.src.Available() }

func (l *Logging) Position() uint64 { return l.src.Position() }

// Capacity reports the wrapped source's capacity, or zero if it has none.
func (l *Logging) Capacity() uint64 {
	if b, ok := l.src.(ringitem.Bounded); ok {
		return b.Capacity()
	}
	return 0
}

func (l *Logging) Close() error {
	l.logger.Debug("Close", "position", l.src.Position())
	return l.src.Close()
}

// Chunks returns copies of the byte runs handed out by Read, in order.
func (l *Logging) Chunks() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.chunks...)
}

// Items decodes the chunks handed out by Read as records. Chunks that are not
// one whole record, as when the caller reads raw bytes, are left out.
func (l *Logging) Items() []*ringitem.Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	var items []*ringitem.Item
	for _, c := range l.chunks {
		if it, err := ringitem.ParseItem(c); err == nil {
			items = append(items, it)
		}
	}
	return items
}
