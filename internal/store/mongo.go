package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo is a Table in a MongoDB collection named mqtt.
// Every commit is one ordered InsertMany.
type Mongo struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
	seq     sequencer
}

func OpenMongo(uri, database string, timeout time.Duration) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetAppName("goingest"))
	if err != nil {
		return nil, errors.Wrap(err, "mongodb connect")
	}
	if err = client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, errors.Wrap(err, "mongodb ping")
	}

	return &Mongo{
		client:  client,
		coll:    client.Database(database).Collection(TableName),
		timeout: timeout,
	}, nil
}

func (s *Mongo) NewLog() (Log, error) {
	return newBufferedLog(&s.seq, s.write), nil
}

func (s *Mongo) write(recs []Record) error {
	docs := make([]interface{}, len(recs))
	for i := range recs {
		docs[i] = recordDocument(&recs[i])
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, err := s.coll.InsertMany(ctx, docs)
	return err
}

func recordDocument(r *Record) bson.D {
	d := bson.D{
		{Key: "timestamp", Value: r.Timestamp},
		{Key: "topic", Value: r.Topic},
		{Key: "qos", Value: int32(r.QoS)},
		{Key: "retain", Value: r.Retain},
		{Key: "clientId", Value: r.ClientID},
	}
	if r.PayloadBinary != nil {
		d = append(d, bson.E{Key: "payloadBinary", Value: primitive.Binary{Data: r.PayloadBinary}})
	} else {
		d = append(d, bson.E{Key: "payloadBinary", Value: nil})
	}
	if r.PayloadVarchar != nil {
		d = append(d, bson.E{Key: "payloadVarchar", Value: string(r.PayloadVarchar)})
	} else {
		d = append(d, bson.E{Key: "payloadVarchar", Value: nil})
	}
	return d
}

func (s *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
