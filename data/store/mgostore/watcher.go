package mgostore

import (
	"context"
	"errors"
	"time"

	"moodchat/data/database"
	"moodchat/data/store"
	"moodchat/logger"
	"moodchat/module/chat/model"
	"moodchat/module/feed"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// changeEvent is the subset of a change stream document the watcher reads.
type changeEvent struct {
	OperationType string `bson:"operationType"`
	NS            struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
	FullDocument             bson.Raw            `bson:"fullDocument"`
	FullDocumentBeforeChange bson.Raw            `bson:"fullDocumentBeforeChange"`
	ClusterTime              primitive.Timestamp `bson:"clusterTime"`
}

// Watcher tails one database-wide change stream and republishes committed
// changes as feed events. Oplog order is commit order, and a single goroutine
// publishes, so per-topic order is preserved.
type Watcher struct {
	db  *mongo.Database
	pub feed.Publisher
	log *zap.Logger

	resume bson.Raw
}

func (s *Store) NewWatcher(pub feed.Publisher) *Watcher {
	return &Watcher{db: s.db, pub: pub, log: logger.Named("mgostore.watch")}
}

func watchPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"ns.coll": database.TableFriends, "operationType": bson.M{"$in": bson.A{"insert", "update", "replace", "delete"}}},
			bson.M{"ns.coll": database.TableRooms, "operationType": bson.M{"$in": bson.A{"insert", "update", "replace"}}},
			bson.M{"ns.coll": database.TableParticipants, "operationType": bson.M{"$in": bson.A{"update", "replace"}}},
			bson.M{"ns.coll": database.TableMessages, "operationType": "insert"},
		}}}},
	}
}

// Run blocks until ctx is done, reopening the stream from the last resume token on failure.
func (w *Watcher) Run(ctx context.Context) error {
	backoff := 200 * time.Millisecond
	for {
		err := w.once(ctx)
		if ctx.Err() != nil {
			return nil
		}
		w.log.Warn("change stream interrupted", zap.Error(err), zap.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

func (w *Watcher) once(ctx context.Context) error {
	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetFullDocumentBeforeChange(options.WhenAvailable)
	if w.resume != nil {
		opts.SetResumeAfter(w.resume)
	}
	cs, err := w.db.Watch(ctx, watchPipeline(), opts)
	if err != nil {
		return err
	}
	defer cs.Close(context.Background())

	for cs.Next(ctx) {
		var ch changeEvent
		if err := cs.Decode(&ch); err != nil {
			w.log.Warn("decode change", zap.Error(err))
		} else if err := w.publish(ctx, ch); err != nil {
			w.log.Warn("publish change", zap.String("coll", ch.NS.Coll), zap.Error(err))
		}
		w.resume = cs.ResumeToken()
	}
	if err := cs.Err(); err != nil {
		return err
	}
	return errors.New("change stream closed")
}

func (w *Watcher) publish(ctx context.Context, ch changeEvent) error {
	op, doc := feed.OpUpdate, ch.FullDocument
	switch ch.OperationType {
	case "insert":
		op = feed.OpInsert
	case "delete":
		op, doc = feed.OpDelete, ch.FullDocumentBeforeChange
	}
	if len(doc) == 0 {
		// 文档已被删除或未开启 pre-images
		return errors.New("change has no document image")
	}
	rec, err := decodeRecord(ch.NS.Coll, doc)
	if err != nil {
		return err
	}
	at := time.Unix(int64(ch.ClusterTime.T), 0)
	events, err := store.EventsFor(op, rec, at)
	if err != nil || len(events) == 0 {
		return err
	}
	return w.pub.Publish(ctx, events...)
}

func decodeRecord(coll string, doc bson.Raw) (database.Table, error) {
	var rec database.Table
	switch coll {
	case database.TableFriends:
		rec = &model.FriendLink{}
	case database.TableRooms:
		rec = &model.Room{}
	case database.TableParticipants:
		rec = &model.Membership{}
	case database.TableMessages:
		rec = &model.Message{}
	default:
		return nil, errors.New("unwatched collection " + coll)
	}
	if err := bson.Unmarshal(doc, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
