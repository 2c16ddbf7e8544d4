package proxy

import "context"

// MavlinkProxy is the surface the service builder needs from either
// MAVLink proxy flavor.
type MavlinkProxy interface {
	Sender
	SetPeer(Sender)
	SendRssi(rxID string, rssi uint8, rxErrors, rxFec uint16, flags uint8)
	PushLocal(data []byte)
	Run(ctx context.Context) error
	Close() error
}
