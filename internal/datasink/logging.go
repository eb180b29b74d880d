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

package datasink

import (
	"log/slog"
	"sync"

	"github.com/daqlab/ringbus/internal/logging"
	"github.com/daqlab/ringbus/internal/ringitem"
)

// Logging logs every record put into it and keeps a copy. With a nil
// next sink it only records.
type Logging struct {
	next   Sink
	logger *slog.Logger
	w      *ringitem.Writer

	mu    sync.Mutex
	items []*ringitem.Item
}

// NewLogging wraps next, which may be nil.
func NewLogging(next Sink, logger *slog.Logger) *Logging {
	l := &Logging{next: next, logger: logging.OrDefault(logger).With("component", "sink-log")}
	l.w = ringitem.NewWriter(l)
	return l
}

func (l *Logging) PutItem(it *ringitem.Item) error { return l.w.WriteItem(it) }

func (l *Logging) Put(b []byte) error {
	if l.next != nil {
		if err := l.next.Put(b); err != nil {
			l.logger.Debug("Put failed", "bytes", len(b), "error", err)
			return err
		}
	}
	for rest := b; len(rest) > 0; {
		h, err := ringitem.ParseHeader(rest, ringitem.DefaultMaxItemSize)
		if err != nil || int(h.Size) > len(rest) {
			l.logger.Warn("Put of unframed bytes", "bytes", len(rest))
			break
		}
		it, err := ringitem.ParseItem(rest[:h.Size])
		if err != nil {
			l.logger.Warn("Put of malformed record", "error", err)
			break
		}
		l.logger.Debug("Put", "type", it.Type.String(), "size", h.Size)
		l.mu.Lock()
		l.items = append(l.items, it.Clone())
		l.mu.Unlock()
		rest = rest[h.Size:]
	}
	return nil
}

func (l *Logging) Close() error {
	l.logger.Debug("Close", "items", len(l.Items()))
	if l.next != nil {
		return l.next.Close()
	}
	return nil
}

// Items returns the records put so far.
func (l *Logging) Items() []*ringitem.Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*ringitem.Item(nil), l.items...)
}
