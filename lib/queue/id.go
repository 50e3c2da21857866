package queue

import (
	"strings"

	"github.com/google/uuid"
)

// Wildcard matches any value in one dimension of an ID.
const Wildcard = "*"

// ID identifies a queue entry by the ENS address of the DApp that owns the dispatcher, the dispatcher name and the
// instance id. ForceReload asks the active screen to reload once the entry finished and is not part of the identity.
type ID struct {
	ENSAddress  string `json:"ensAddress" bson:"ensAddress"`
	Dispatcher  string `json:"dispatcher" bson:"dispatcher"`
	ID          string `json:"id" bson:"id"`
	ForceReload bool   `json:"forceReload,omitempty" bson:"forceReload,omitempty"`
}

// NewID returns an ID for the given triple. Empty values are turned into wildcards.
func NewID(ensAddress, dispatcher, id string) ID {
	return ID{ENSAddress: orWildcard(ensAddress), Dispatcher: orWildcard(dispatcher), ID: orWildcard(id)}
}

// NewInstanceID returns a random instance id for dispatchers that run several independent entries.
func NewInstanceID() string {
	return uuid.NewString()
}

// String returns the "ensAddress-dispatcher-id" form of the ID.
func (q ID) String() string {
	return strings.Join([]string{q.ENSAddress, q.Dispatcher, q.ID}, "-")
}

// Matches reports whether other is selected by q. Each dimension of q matches when it is a wildcard or equal to the
// same dimension of other.
func (q ID) Matches(other ID) bool {
	return matchPart(q.ENSAddress, other.ENSAddress) &&
		matchPart(q.Dispatcher, other.Dispatcher) &&
		matchPart(q.ID, other.ID)
}

// Equal compares the identity triple of both IDs, ignoring ForceReload.
func (q ID) Equal(other ID) bool {
	return q.ENSAddress == other.ENSAddress && q.Dispatcher == other.Dispatcher && q.ID == other.ID
}

// IsPattern reports whether any dimension of q is a wildcard.
func (q ID) IsPattern() bool {
	return q.ENSAddress == Wildcard || q.Dispatcher == Wildcard || q.ID == Wildcard
}

func matchPart(pattern, value string) bool {
	return pattern == Wildcard || pattern == value
}

func orWildcard(s string) string {
	if s == "" {
		return Wildcard
	}

	return s
}
