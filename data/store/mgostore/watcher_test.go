package mgostore

import (
	"testing"
	"time"

	"moodchat/data/database"
	"moodchat/module/chat/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestDecodeRecord(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	raw, err := bson.Marshal(&model.FriendLink{
		ID: "l1", RequesterID: "u1", RecipientID: "u2", Status: model.FriendPending,
		PairKey: "u1:u2", CreatedAt: at, UpdatedAt: at,
	})
	require.NoError(t, err)

	rec, err := decodeRecord(database.TableFriends, raw)
	require.NoError(t, err)
	link, ok := rec.(*model.FriendLink)
	require.True(t, ok)
	assert.Equal(t, "u1", link.RequesterID)
	assert.Equal(t, "u2", link.RecipientID)
	assert.Equal(t, "u1:u2", link.PairKey)

	raw, err = bson.Marshal(&model.Message{ID: "m1", RoomID: "r1", SenderID: "u1", Body: "hi", Type: model.MessageText, Seq: 3})
	require.NoError(t, err)
	rec, err = decodeRecord(database.TableMessages, raw)
	require.NoError(t, err)
	assert.EqualValues(t, 3, rec.(*model.Message).Seq)

	_, err = decodeRecord(database.TableProfiles, raw)
	assert.Error(t, err)
}

func TestWatchPipelineCoversRoutedCollections(t *testing.T) {
	p := watchPipeline()
	require.Len(t, p, 1)
	b, err := bson.MarshalExtJSON(p[0], false, false)
	require.NoError(t, err)
	for _, coll := range []string{database.TableFriends, database.TableRooms, database.TableParticipants, database.TableMessages} {
		assert.Contains(t, string(b), coll)
	}
	assert.NotContains(t, string(b), database.TableProfiles)
}
