// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package broadcast

const (
	ProtocolName        = protocolName
	ProtocolVersion     = protocolVersion
	StreamAdd           = streamAdd
	StreamRemove        = streamRemove
	StreamRemoveMailbox = streamRemoveMailbox
	StreamRefresh       = streamRefresh
)

func StreamName(op Operation) string {
	return op.streamName()
}
