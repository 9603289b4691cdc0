// Package cip implements the Common Industrial Protocol pieces needed to
// read and write named tags on a ControlLogix/CompactLogix controller: the
// typed data codec, the symbolic path encoder, and the MessageRouter /
// UnconnectedSend / ReadTag / WriteTag / MultiRequest service framing.
//
// It does not implement connected (Class 1) messaging or Forward Open —
// every request here is unconnected, explicit (Class 3) messaging routed
// across one backplane hop to a configured slot.
package cip
