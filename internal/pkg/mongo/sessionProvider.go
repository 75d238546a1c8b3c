package mongo

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/cmdapp"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	store          = "recordings"
	recordingTable = "recordings"
)

// IndexData keeps index creation data
type IndexData struct {
	Table  string
	Fields []string
	Unique bool
}

func newIndexData(table string, fields []string, unique bool) IndexData {
	return IndexData{Table: table, Fields: fields, Unique: unique}
}

var indexData = []IndexData{
	newIndexData(recordingTable, []string{"ID"}, true),
	newIndexData(recordingTable, []string{"originalFileName", "createdAt"}, false),
}

// SessionProvider connects and provides client for mongo DB
type SessionProvider struct {
	client *mongo.Client
	URL    string
	m      sync.Mutex
}

// NewSessionProvider creates Mongo session provider
func NewSessionProvider() (*SessionProvider, error) {
	url := cmdapp.Config.GetString("mongo.url")
	if url == "" {
		return nil, errors.New("No Mongo url provided")
	}
	return &SessionProvider{URL: url}, nil
}

// Close closes mongo client
func (sp *SessionProvider) Close() {
	if sp.client != nil {
		ctx, cancel := mongoContext()
		defer cancel()
		cmdapp.LogIf(sp.client.Disconnect(ctx))
	}
}

// Healthy checks the connection
func (sp *SessionProvider) Healthy() error {
	client, err := sp.Client()
	if err != nil {
		return err
	}
	ctx, cancel := mongoContext()
	defer cancel()
	return client.Ping(ctx, nil)
}

// Client returns a connected mongo client, dialing lazily on first use
func (sp *SessionProvider) Client() (*mongo.Client, error) {
	sp.m.Lock()
	defer sp.m.Unlock()

	if sp.client == nil {
		cmdapp.Log.Info("Dial mongo: " + hidePass(sp.URL))
		ctx, cancel := mongoContext()
		defer cancel()
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(sp.URL))
		if err != nil {
			return nil, errors.Wrap(err, "Can't dial to mongo")
		}
		err = checkIndexes(client)
		if err != nil {
			return nil, errors.Wrap(err, "Can't create indexes")
		}
		sp.client = client
	}
	return sp.client, nil
}

func checkIndexes(client *mongo.Client) error {
	ctx, cancel := mongoContext()
	defer cancel()
	for _, index := range indexData {
		keys := bson.D{}
		for _, f := range index.Fields {
			keys = append(keys, bson.E{Key: f, Value: 1})
		}
		c := client.Database(store).Collection(index.Table)
		_, err := c.Indexes().CreateOne(ctx,
			mongo.IndexModel{Keys: keys,
				Options: options.Index().SetUnique(index.Unique).SetSparse(true)})
		if err != nil {
			return errors.Wrap(err, "Can't create index: "+index.Table)
		}
	}
	return nil
}

func mongoContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func hidePass(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		cmdapp.Log.Warn("Can't parse mongo url.")
		return ""
	}
	_, ps := u.User.Password()
	if ps {
		u.User = url.UserPassword(u.User.Username(), "----")
	}
	return u.String()
}
