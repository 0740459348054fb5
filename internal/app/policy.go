package app

import (
	"errors"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
)

type BackpressureAction int

const (
	// DropConnection removes the connection from routing and closes it.
	DropConnection BackpressureAction = iota
	// DropFrame skips this frame and keeps the connection.
	DropFrame
)

// Policy decides what a failed non-blocking send means for a connection.
type Policy interface {
	OnSendFailure(sid domain.SessionID, conn core.ConnID, err error) BackpressureAction
}

// SimplePolicy treats every failed send as a dead peer.
type SimplePolicy struct{}

func (SimplePolicy) OnSendFailure(domain.SessionID, core.ConnID, error) BackpressureAction {
	return DropConnection
}

// TolerantPolicy keeps connections whose queue is merely full and drops
// only closed ones.
type TolerantPolicy struct{}

func (TolerantPolicy) OnSendFailure(_ domain.SessionID, _ core.ConnID, err error) BackpressureAction {
	if errors.Is(err, core.ErrBackpressure) {
		return DropFrame
	}
	return DropConnection
}
