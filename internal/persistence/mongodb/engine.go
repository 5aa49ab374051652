package mongodb

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/goevery/hotelsync/internal/broadcaster"
	"github.com/goevery/hotelsync/internal/event"
	"github.com/goevery/hotelsync/internal/ierr"
	"github.com/goevery/hotelsync/internal/persistence"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const retention = 5 * 24 * time.Hour

type Message struct {
	Id         bson.ObjectID `bson:"_id"`
	CreateTime time.Time     `bson:"createTime"`
	Channel    string        `bson:"channel"`
	Type       string        `bson:"type"`
	Data       string        `bson:"data,omitempty"`
	Timestamp  time.Time     `bson:"timestamp"`
}

type PersistenceEngine struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewPersistenceEngine(client *mongo.Client) *PersistenceEngine {
	database := client.Database("hotelsync")
	collection := database.Collection("events")

	return &PersistenceEngine{
		collection,
		time.Now,
	}
}

func (e *PersistenceEngine) Setup(ctx context.Context) error {
	ttlIndexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "createTime", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(retention.Seconds())),
	}

	channelIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "channel", Value: 1},
			{Key: "_id", Value: -1},
		},
	}

	_, err := e.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{ttlIndexModel, channelIndexModel})

	return err
}

func (e *PersistenceEngine) Save(ctx context.Context, request persistence.SaveRequest) (broadcaster.Message, error) {
	document := Message{
		Id:         bson.NewObjectID(),
		CreateTime: e.now(),
		Channel:    request.Channel,
		Type:       string(request.Event.Type),
		Data:       string(request.Event.Data),
		Timestamp:  request.Event.Timestamp,
	}

	if _, err := e.collection.InsertOne(ctx, document); err != nil {
		return broadcaster.Message{}, ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	return document.toMessage(), nil
}

func (e *PersistenceEngine) List(ctx context.Context, channel string, lastSeenId string) ([]broadcaster.Message, error) {
	filter := bson.M{"channel": channel}
	sort := -1

	if lastSeenId != "" {
		lastSeenObjectId, err := bson.ObjectIDFromHex(lastSeenId)
		if err != nil {
			return nil, ierr.New(ierr.ErrorCodeInvalidArgument, err)
		}

		filter["_id"] = bson.M{"$gt": lastSeenObjectId}
		sort = 1
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: sort}}).
		SetLimit(persistence.ListLimit)

	result, err := e.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	var documents []Message
	if err := result.All(ctx, &documents); err != nil {
		return nil, ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	if sort < 0 {
		slices.Reverse(documents)
	}

	messages := make([]broadcaster.Message, len(documents))
	for i, document := range documents {
		messages[i] = document.toMessage()
	}

	return messages, nil
}

func (m Message) toMessage() broadcaster.Message {
	var data json.RawMessage
	if m.Data != "" {
		data = json.RawMessage(m.Data)
	}

	return broadcaster.Message{
		Id:         m.Id.Hex(),
		CreateTime: m.CreateTime,
		Channel:    m.Channel,
		Event: event.Envelope{
			Type:      event.Type(m.Type),
			Data:      data,
			Timestamp: m.Timestamp,
		},
	}
}
