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

package shm

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DefaultProxyPort is the port of the ring proxy when an address omits it.
const DefaultProxyPort = 30000

// Address is a parsed ring or file location.
//
// Accepted forms:
//
//	name                      local ring
//	ring://host[:port]/name   ring on host, via its proxy unless host is local
//	tcp://host[:port]/name    same as ring://
//	file:///path/run.evt      recorded event file
//
// The query parameters cap=N (capacity when creating) and from=start
// (catch-up attach) are accepted on ring addresses.
type Address struct {
	Scheme    string
	Host      string
	Port      int
	Name      string
	Path      string
	Capacity  uint64
	FromStart bool
}

// ParseAddress parses a ring or file address.
func ParseAddress(raw string) (Address, error) {
	if raw == "" {
		return Address{}, fmt.Errorf("empty ring address")
	}
	if !strings.Contains(raw, "://") {
		if err := ValidateName(raw); err != nil {
			return Address{}, err
		}
		return Address{Scheme: "ring", Name: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Address{}, fmt.Errorf("parse ring address: %w", err)
	}
	switch u.Scheme {
	case "file":
		path := u.Path
		if u.Host != "" && u.Host != "localhost" {
			path = u.Host + path
		}
		if path == "" {
			return Address{}, fmt.Errorf("missing file path in %q", raw)
		}
		return Address{Scheme: "file", Path: path}, nil
	case "ring", "tcp":
	default:
		return Address{}, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	addr := Address{Scheme: "ring", Host: u.Hostname(), Port: DefaultProxyPort}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Address{}, fmt.Errorf("invalid port %q", p)
		}
		addr.Port = port
	}
	addr.Name = strings.TrimPrefix(u.Path, "/")
	if err := ValidateName(addr.Name); err != nil {
		return Address{}, err
	}

	q := u.Query()
	if c := q.Get("cap"); c != "" {
		v, err := strconv.ParseUint(c, 10, 64)
		if err != nil {
			return Address{}, fmt.Errorf("invalid cap: %w", err)
		}
		if err := ValidateCapacity(v); err != nil {
			return Address{}, err
		}
		addr.Capacity = v
	}
	switch q.Get("from") {
	case "", "now":
	case "start":
		addr.FromStart = true
	default:
		return Address{}, fmt.Errorf("invalid from=%q, want start or now", q.Get("from"))
	}
	return addr, nil
}

// IsFile reports whether the address names a recorded file.
func (a Address) IsFile() bool { return a.Scheme == "file" }

// IsLocal reports whether the ring is in this host's directory. Only an empty
// host and "localhost" count; numeric loopback goes through the proxy.
func (a Address) IsLocal() bool {
	return a.Scheme == "ring" && (a.Host == "" || a.Host == "localhost")
}

// HostPort returns the proxy address to dial.
func (a Address) HostPort() string {
	port := a.Port
	if port == 0 {
		port = DefaultProxyPort
	}
	return net.JoinHostPort(a.Host, strconv.Itoa(port))
}

func (a Address) String() string {
	switch {
	case a.IsFile():
		return "file://" + a.Path
	case a.Host == "":
		return a.Name
	default:
		return "ring://" + a.HostPort() + "/" + a.Name
	}
}
