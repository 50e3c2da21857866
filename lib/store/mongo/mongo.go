// Package mongo implements the interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/evannetwork/ui-angular-core-sub000/lib/queue"
	"github.com/evannetwork/ui-angular-core-sub000/lib/store"
)

// Database and collection names.
const (
	Database    = "evanq"
	QueueCol    = "queue"
	ContactsCol = "contacts"
)

// Mongo implements a connection to a MongoDB database. All the queue entries of a key are kept in one document.
type Mongo struct {
	c   *mgo.Client
	key string
}

// MongoQueue implements a stored queue in MongoDB. Entries hold the JSON encoded entries as results of dispatcher
// steps may be any JSON value.
type MongoQueue struct {
	Key     string    `bson:"_id"`
	Entries string    `bson:"entries"`
	Updated time.Time `bson:"updated"`
}

// MongoContacts implements the stored contacts of an account in MongoDB.
type MongoContacts struct {
	Account  string          `bson:"_id"`
	Contacts []store.Contact `bson:"contacts"`
}

// New returns a Mongo client connection to the specified MongoDB database uri, storing the queue under key.
func New(uri, key string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	err = c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c, key: key}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

// LoadQueue loads from db the queue entries of the key. A missing document is an empty queue.
func (m *Mongo) LoadQueue(ctx context.Context) ([]*queue.Entry, error) {
	var mq MongoQueue

	err := m.c.Database(Database).Collection(QueueCol).FindOne(ctx, bson.M{"_id": m.key}).Decode(&mq)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return []*queue.Entry{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("cannot load queue %s: %w", m.key, err)
	}

	return store.DecodeQueue([]byte(mq.Entries))
}

// StoreQueue saves to db the queue entries of the key.
func (m *Mongo) StoreQueue(ctx context.Context, entries []*queue.Entry) error {
	b, err := store.EncodeQueue(entries)
	if err != nil {
		return err
	}

	_, err = m.c.Database(Database).Collection(QueueCol).UpdateOne(ctx,
		bson.M{"_id": m.key}, // filter
		bson.D{ // update
			{
				Key: "$set", Value: bson.D{
					{Key: "entries", Value: string(b)},
					{Key: "updated", Value: time.Now()},
				},
			},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("cannot store queue %s: %w", m.key, err)
	}

	return nil
}

// LoadContacts loads from db the contacts of account.
func (m *Mongo) LoadContacts(ctx context.Context, account string) ([]store.Contact, error) {
	var mc MongoContacts

	err := m.c.Database(Database).Collection(ContactsCol).FindOne(ctx, bson.M{"_id": account}).Decode(&mc)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return nil, store.ErrDataNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("cannot load contacts of %s: %w", account, err)
	}

	return mc.Contacts, nil
}

// SaveContacts replaces in db the contacts of account.
func (m *Mongo) SaveContacts(ctx context.Context, account string, contacts []store.Contact) error {
	if contacts == nil {
		contacts = []store.Contact{}
	}

	_, err := m.c.Database(Database).Collection(ContactsCol).UpdateOne(ctx,
		bson.M{"_id": account},
		bson.D{{Key: "$set", Value: bson.D{{Key: "contacts", Value: contacts}}}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("cannot save contacts of %s: %w", account, err)
	}

	return nil
}

// DeleteQueue deletes from db the queue of the key.
func (m *Mongo) DeleteQueue(ctx context.Context) (err error) {
	_, err = m.c.Database(Database).Collection(QueueCol).DeleteOne(ctx, bson.M{"_id": m.key}, options.Delete())

	return
}
