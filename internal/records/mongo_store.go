package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore is an alternative record store for installations that already
// keep their host inventory in MongoDB. Import runs inside a server-side
// transaction so the sync engine's both-or-neither contract holds.
type MongoStore struct {
	client   *mongo.Client
	hosts    *mongo.Collection
	snippets *mongo.Collection
	settings *mongo.Collection
	presets  *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("records: mongo uri is empty")
	}
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}

	db := cli.Database(dbName)
	s := &MongoStore{
		client:   cli,
		hosts:    db.Collection("hosts"),
		snippets: db.Collection("snippets"),
		settings: db.Collection("settings"),
		presets:  db.Collection("presets"),
	}
	for _, coll := range []*mongo.Collection{s.hosts, s.snippets, s.presets} {
		_, _ = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		})
	}
	return s, nil
}

func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoStore) Export(ctx context.Context) (Export, error) {
	out := Export{Settings: map[string]string{}}

	cur, err := m.hosts.Find(ctx, bson.M{})
	if err != nil {
		return Export{}, err
	}
	if err := cur.All(ctx, &out.Hosts); err != nil {
		return Export{}, err
	}

	cur, err = m.snippets.Find(ctx, bson.M{})
	if err != nil {
		return Export{}, err
	}
	if err := cur.All(ctx, &out.Snippets); err != nil {
		return Export{}, err
	}

	cur, err = m.settings.Find(ctx, bson.M{})
	if err != nil {
		return Export{}, err
	}
	var settings []struct {
		Key   string `bson:"key"`
		Value string `bson:"value"`
	}
	if err := cur.All(ctx, &settings); err != nil {
		return Export{}, err
	}
	for _, kv := range settings {
		out.Settings[kv.Key] = kv.Value
	}

	cur, err = m.presets.Find(ctx, bson.M{})
	if err != nil {
		return Export{}, err
	}
	if err := cur.All(ctx, &out.Presets); err != nil {
		return Export{}, err
	}
	return out, nil
}

func (m *MongoStore) Import(ctx context.Context, data Export) error {
	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransaction, err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, coll := range []*mongo.Collection{m.hosts, m.snippets, m.settings, m.presets} {
			if _, err := coll.DeleteMany(sc, bson.M{}); err != nil {
				return nil, err
			}
		}
		for _, h := range data.Hosts {
			if _, err := m.hosts.InsertOne(sc, h); err != nil {
				return nil, err
			}
		}
		for _, sn := range data.Snippets {
			if _, err := m.snippets.InsertOne(sc, sn); err != nil {
				return nil, err
			}
		}
		for k, v := range data.Settings {
			if _, err := m.settings.InsertOne(sc, bson.M{"key": k, "value": v}); err != nil {
				return nil, err
			}
		}
		for _, p := range data.Presets {
			if _, err := m.presets.InsertOne(sc, p); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransaction, err)
	}
	return nil
}
