package model

// Row is a PUBLISH message as it is appended to the ingestion log.
// Topic and Payload may alias the connection's receive buffer and are
// only valid until the append returns. ClientID is owned by the session.
type Row struct {
	ClientID string
	Topic    []byte
	Payload  []byte
	QoS      uint8
	Retain   bool
	UTF8     bool // payload format indicator 1: stored as varchar
}
