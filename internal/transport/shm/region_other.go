//go:build !unix

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

import "os"

func createRegion(name, path string, capacity uint64, maxConsumers int, claim bool) (*region, error) {
	return nil, ErrUnsupported
}

func openRegion(name, path string) (*region, error) {
	return nil, ErrUnsupported
}

func munmap(data []byte) error { return nil }

func processAlive(pid int) bool { return pid == os.Getpid() }
