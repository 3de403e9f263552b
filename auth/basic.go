package auth

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrBadCredentials = errors.New("bad username and/or password")
	ErrUnknownUser    = errors.New("unknown user")
	ErrRestricted     = errors.New("restricted")
)

// Basic is an in-memory user and topic table.
type Basic struct {
	users map[string]*credential // k: clientId
	userL sync.RWMutex

	pubs map[string]map[string]struct{} // topic -> clientIds
	pubL sync.RWMutex

	allowGuests bool
}

type credential struct {
	userName string
	password string
}

func NewBasic() *Basic {
	return &Basic{
		users: make(map[string]*credential),
		pubs:  make(map[string]map[string]struct{}),
	}
}

func (ba *Basic) RegisterUser(clientId, userName, password string) {
	ba.userL.Lock()
	ba.users[clientId] = &credential{userName, password}
	ba.userL.Unlock()
}

func (ba *Basic) RemoveUser(clientId string) {
	ba.userL.Lock()
	delete(ba.users, clientId)
	ba.userL.Unlock()
}

// AllowPublish lets clientId publish to a restricted Topic Name.
// The Topic Name becomes restricted the first time it is passed here.
func (ba *Basic) AllowPublish(topicName, clientId string) {
	ba.pubL.Lock()
	clients, ok := ba.pubs[topicName]
	if !ok {
		clients = make(map[string]struct{})
		ba.pubs[topicName] = clients
	}
	clients[clientId] = struct{}{}
	ba.pubL.Unlock()
}

// ToggleGuestAccess allows unregistered clients to connect.
// Registered clientIds must still present their credentials.
func (ba *Basic) ToggleGuestAccess(allow bool) {
	ba.userL.Lock()
	ba.allowGuests = allow
	ba.userL.Unlock()
}

func (ba *Basic) AuthUser(clientId string, username, password []byte) error {
	ba.userL.RLock()
	user, ok := ba.users[clientId]
	guests := ba.allowGuests
	ba.userL.RUnlock()

	if ok {
		if string(username) != user.userName || string(password) != user.password {
			return ErrBadCredentials
		}
	} else if !guests {
		return errors.Wrapf(ErrUnknownUser, "client %q", clientId)
	}
	return nil
}

func (ba *Basic) AuthPublish(clientId string, topicName []byte) error {
	ba.pubL.RLock()
	defer ba.pubL.RUnlock()

	clients, ok := ba.pubs[string(topicName)]
	if !ok {
		return nil
	}
	if _, ok = clients[clientId]; !ok {
		return errors.Wrapf(ErrRestricted, "topic %q", topicName)
	}
	return nil
}
