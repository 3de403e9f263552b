// Package auth decides which clients may connect and which topics they
// may publish to.
package auth

// Auther provides Authentication and Authorization for the Server.
// Implementations return a non-nil error to refuse.
type Auther interface {
	// AuthUser authenticates a client trying to connect.
	// username and password are nil when the client did not send them.
	AuthUser(clientId string, username, password []byte) error

	// AuthPublish authorizes a client publishing to a Topic Name.
	AuthPublish(clientId string, topicName []byte) error
}
