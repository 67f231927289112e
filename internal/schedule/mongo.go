package schedule

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/diagnosis/railwatch/pkg/logger"
)

// Collection holds one document per scheduled train.
const Collection = "trainSchedules"

const indexTimeout = 5 * time.Second

// NewMongoClient connects and pings within ten seconds.
func NewMongoClient(ctx context.Context, uri, username, password string) (*mongo.Client, error) {
	clientOptions := options.Client().ApplyURI(uri)
	if username != "" && password != "" {
		clientOptions.SetAuth(options.Credential{
			Username: username,
			Password: password,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

type MongoStore struct {
	collection *mongo.Collection
	loc        *time.Location
}

func NewMongoStore(db *mongo.Database, loc *time.Location) *MongoStore {
	if loc == nil {
		loc = time.Local
	}
	collection := db.Collection(Collection)
	ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
	defer cancel()
	if _, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.M{"crossingId": 1},
	}); err != nil {
		logger.Warn("Failed to create schedule index", "collection", Collection, "error", err)
	}
	return &MongoStore{collection: collection, loc: loc}
}

func (s *MongoStore) ByCrossing(ctx context.Context, crossingID string) ([]Entry, error) {
	cur, err := s.collection.Find(ctx, bson.M{"crossingId": crossingID})
	if err != nil {
		return nil, FetchError(crossingID, err)
	}
	defer cur.Close(ctx)

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, FetchError(crossingID, err)
	}

	out := make([]Entry, 0, len(docs))
	for _, doc := range docs {
		out = append(out, entryFromDoc(doc, s.loc))
	}
	return out, nil
}

func (s *MongoStore) Insert(ctx context.Context, records []Record) error {
	docs := make([]interface{}, 0, len(records))
	for _, r := range records {
		doc := bson.M{
			"crossingId": r.CrossingID,
			"trainId":    r.TrainID,
			"trainType":  r.TrainType,
		}
		if t, ok := r.ArrivalAt(); ok {
			doc["arrivalTime"] = primitive.NewDateTimeFromTime(t)
		} else {
			doc["arrivalTime"] = r.ArrivalTime
		}
		docs = append(docs, doc)
	}
	_, err := s.collection.InsertMany(ctx, docs)
	return err
}

// entryFromDoc tolerates missing fields and both timestamp and text arrivals.
func entryFromDoc(doc bson.M, loc *time.Location) Entry {
	e := Entry{
		TrainID:   orMissing(stringField(doc["trainId"])),
		TrainType: orMissing(stringField(doc["trainType"])),
	}
	switch v := doc["arrivalTime"].(type) {
	case primitive.DateTime:
		t := v.Time()
		e.ArrivalTime = formatArrival("", &t, loc)
	case primitive.Timestamp:
		t := time.Unix(int64(v.T), 0)
		e.ArrivalTime = formatArrival("", &t, loc)
	case time.Time:
		e.ArrivalTime = formatArrival("", &v, loc)
	default:
		e.ArrivalTime = orMissing(stringField(v))
	}
	return e
}

func stringField(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
