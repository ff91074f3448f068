// Package protocol implements the wire formats spoken by radio network peers:
// the binary TLV datagrams of the UDP link and the JSON envelopes of the
// websocket link.
package protocol
