// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

var (
	ErrClientIDEmpty = errors.New("client id empty")
)

// ClientID is the VATSIM CID — an opaque, stable, digit-string identifier.
type ClientID string

// ClientInfo is the roster-visible identity of a connected client.
type ClientInfo struct {
	ID          ClientID `json:"id"`
	DisplayName string   `json:"displayName"`
	Frequency   string   `json:"frequency"`
}

// NewClientInfo builds minimal info (id only) for when the data feed has
// no entry for this CID yet.
func NewClientInfo(id ClientID) ClientInfo {
	return ClientInfo{ID: id}
}
