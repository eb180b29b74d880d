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
	"github.com/daqlab/ringbus/internal/ringitem"
	"github.com/daqlab/ringbus/internal/transport/remote"
)

// Remote writes records to a ring behind a proxy.
type Remote struct {
	c *remote.Client
	w *ringitem.Writer
}

// NewRemote wraps a produce-mode client and closes it on Close.
func NewRemote(c *remote.Client) *Remote {
	r := &Remote{c: c}
	r.w = ringitem.NewWriter(c)
	return r
}

func (r *Remote) PutItem(it *ringitem.Item) error { return r.w.WriteItem(it) }

func (r *Remote) Put(b []byte) error { return r.c.Put(b) }

func (r *Remote) Close() error { return r.c.Close() }
