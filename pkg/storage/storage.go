// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package storage provides the persistence contracts used by the stateful
// components of the node.
package storage

import "errors"

var ErrNotFound = errors.New("storage: not found")
