// Package network connects the recorder to radio networks. Each adapter
// owns one network endpoint, reconnects on its own and turns what it
// receives into stream events.
package network
