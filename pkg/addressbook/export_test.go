// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package addressbook

import "time"

func SetNow(s Store, now func() time.Time) {
	s.(*store).now = now
}
