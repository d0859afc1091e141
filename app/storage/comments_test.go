package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commentguard/comment-guard/lib/comment"
)

func saveTestComment(t *testing.T, c *Comments, ip string, public bool) int64 {
	t.Helper()
	id, err := c.Save(context.Background(),
		comment.Comment{AuthorName: "ktulhu", AuthorEmail: "k@example.com", IPAddress: ip, Body: "some text"},
		comment.Result{Accepted: true, IsPublic: public, Total: 0.05},
		[]comment.CheckResult{{Name: "text", Score: comment.ScoreOf(0.05)}},
	)
	require.NoError(t, err)
	return id
}

func TestComments_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	c, err := NewComments(ctx, newTestDB(t))
	require.NoError(t, err)

	id, err := c.Save(ctx,
		comment.Comment{AuthorName: "ktulhu", AuthorEmail: "k@example.com", AuthorURL: "http://example.com",
			IPAddress: "1.2.3.4", Body: "buy cheap viagra"},
		comment.Result{Accepted: true, IsPublic: false, Total: 0.43},
		[]comment.CheckResult{
			{Name: "text", Score: comment.ScoreOf(0.33)},
			{Name: "email", Score: comment.Abstain()},
		},
	)
	require.NoError(t, err)
	assert.Positive(t, id)

	rec, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ktulhu", rec.AuthorName)
	assert.Equal(t, "1.2.3.4", rec.IPAddress)
	assert.False(t, rec.IsPublic)
	assert.True(t, rec.Accepted)
	assert.InDelta(t, 0.43, rec.Score, 0.0001)
	assert.False(t, rec.SubmittedAt.IsZero())

	var checks []comment.CheckResult
	require.NoError(t, json.Unmarshal([]byte(rec.Checks), &checks))
	require.Len(t, checks, 2)
	assert.Equal(t, "text", checks[0].Name)
	assert.True(t, checks[0].Score.Opinion())
	assert.False(t, checks[1].Score.Opinion(), "abstain survives the round trip")

	_, err = c.Get(ctx, id+100)
	assert.Error(t, err)
}

func TestComments_CountNonPublicByIP(t *testing.T) {
	ctx := context.Background()
	c, err := NewComments(ctx, newTestDB(t))
	require.NoError(t, err)

	saveTestComment(t, c, "1.2.3.4", false)
	saveTestComment(t, c, "1.2.3.4", false)
	saveTestComment(t, c, "1.2.3.4", true)
	saveTestComment(t, c, "5.6.7.8", false)

	count, err := c.CountNonPublicByIP(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = c.CountNonPublicByIP(ctx, "9.9.9.9")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestComments_Recent(t *testing.T) {
	ctx := context.Background()
	c, err := NewComments(ctx, newTestDB(t))
	require.NoError(t, err)

	var last int64
	for i := 0; i < 5; i++ {
		last = saveTestComment(t, c, "1.2.3.4", true)
	}

	recent, err := c.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, last, recent[0].ID, "newest first")

	all, err := c.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5, "zero limit falls back to default")
}

func TestComments_BatchFlags(t *testing.T) {
	ctx := context.Background()
	c, err := NewComments(ctx, newTestDB(t))
	require.NoError(t, err)

	id1 := saveTestComment(t, c, "1.2.3.4", false)
	id2 := saveTestComment(t, c, "1.2.3.4", false)
	id3 := saveTestComment(t, c, "5.6.7.8", true)

	n, err := c.MarkPublic(ctx, []int64{id1, id2})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	rec, err := c.Get(ctx, id1)
	require.NoError(t, err)
	assert.True(t, rec.IsPublic)

	n, err = c.MarkNotPublic(ctx, []int64{id3})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = c.MarkRemoved(ctx, []int64{id1})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	rec, err = c.Get(ctx, id1)
	require.NoError(t, err)
	assert.True(t, rec.IsRemoved)

	n, err = c.MarkNotRemoved(ctx, []int64{id1})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = c.MarkPublic(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n, "empty id list is a no-op")
}

func TestComments_Delete(t *testing.T) {
	ctx := context.Background()
	c, err := NewComments(ctx, newTestDB(t))
	require.NoError(t, err)

	id1 := saveTestComment(t, c, "1.2.3.4", true)
	id2 := saveTestComment(t, c, "1.2.3.4", true)

	n, err := c.Delete(ctx, []int64{id1, id2, id2 + 100})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	recent, err := c.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestComments_BanIPs(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	c, err := NewComments(ctx, db)
	require.NoError(t, err)
	banned, err := NewBannedIPs(ctx, db)
	require.NoError(t, err)

	id1 := saveTestComment(t, c, "1.2.3.4", false)
	id2 := saveTestComment(t, c, "1.2.3.4", false) // same address as id1
	id3 := saveTestComment(t, c, "5.6.7.8", false)

	_, err = banned.Add(ctx, "5.6.7.8") // pre-banned
	require.NoError(t, err)

	added, existing, err := c.BanIPs(ctx, []int64{id1, id2, id3}, banned)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, existing)

	isBanned, err := banned.Contains(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, isBanned)

	added, existing, err = c.BanIPs(ctx, nil, banned)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Zero(t, existing)
}

func TestNewComments_NilDB(t *testing.T) {
	_, err := NewComments(context.Background(), nil)
	assert.Error(t, err)
}
