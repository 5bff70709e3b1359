// Package seed populates a backend with plausible demo data: users,
// posts across every category, like edges, threaded replies and the
// notifications they imply.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/ventapp/ventfeed/internal/backend"
	"github.com/ventapp/ventfeed/internal/config"
	"github.com/ventapp/ventfeed/internal/feed"
)

// Options controls how much data Run generates.
type Options struct {
	Users   int
	Posts   int
	Seed    int64 // 0 means random
	Session config.Session
}

// Run writes a demo dataset. The session user is included so the feed
// renders a signed-in experience immediately.
func Run(ctx context.Context, be backend.Backend, cfg *config.Config, opts Options) error {
	faker := gofakeit.New(opts.Seed)

	if opts.Users <= 0 {
		opts.Users = 8
	}
	if opts.Posts <= 0 {
		opts.Posts = 25
	}

	users := make([]feed.UserProfile, 0, opts.Users+1)
	users = append(users, feed.UserProfile{
		ID:       opts.Session.UserID,
		Username: opts.Session.Username,
		Emoji:    opts.Session.Emoji,
		Public:   true,
	})
	for i := 0; i < opts.Users; i++ {
		users = append(users, feed.UserProfile{
			ID:       uuid.NewString(),
			Username: faker.Username(),
			Emoji:    faker.Emoji(),
			Public:   faker.Bool(),
		})
	}
	for _, u := range users {
		if err := write(ctx, be, backend.CollectionUsers, u.ID, u); err != nil {
			return fmt.Errorf("seeding user %s: %w", u.Username, err)
		}
	}

	now := time.Now().Unix()
	for i := 0; i < opts.Posts; i++ {
		author := users[faker.IntRange(0, len(users)-1)]
		post := feed.Post{
			ID:        uuid.NewString(),
			AuthorID:  author.ID,
			Username:  author.Username,
			Body:      faker.Sentence(faker.IntRange(4, 20)),
			Tag:       cfg.Feed.Categories[faker.IntRange(0, len(cfg.Feed.Categories)-1)],
			CreatedAt: now - int64(faker.IntRange(60, 7*24*3600)),
		}
		if err := write(ctx, be, backend.CollectionPosts, post.ID, post); err != nil {
			return fmt.Errorf("seeding post: %w", err)
		}

		if err := seedLikes(ctx, be, faker, users, &post); err != nil {
			return err
		}
		if err := seedThread(ctx, be, faker, users, &post); err != nil {
			return err
		}
	}
	return nil
}

func seedLikes(ctx context.Context, be backend.Backend, faker *gofakeit.Faker, users []feed.UserProfile, post *feed.Post) error {
	n := faker.IntRange(0, len(users)-1)
	idx := indexes(len(users))
	faker.ShuffleInts(idx)
	for _, liker := range idx[:n] {
		u := users[liker]
		if u.ID == post.AuthorID {
			continue
		}
		edge := feed.LikeEdge{
			ID:           feed.LikeEdgeID(post.ID, u.ID),
			PostID:       post.ID,
			UserID:       u.ID,
			PostAuthorID: post.AuthorID,
			CreatedAt:    post.CreatedAt + int64(faker.IntRange(1, 3600)),
		}
		if err := write(ctx, be, backend.CollectionLikes, edge.ID, edge); err != nil {
			return fmt.Errorf("seeding like: %w", err)
		}
		if err := notify(ctx, be, feed.NotificationLike, post.AuthorID, u.ID, post.ID, edge.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

// seedThread creates a small reply tree: a few top-level replies, each
// with a chance of nested children.
func seedThread(ctx context.Context, be backend.Backend, faker *gofakeit.Faker, users []feed.UserProfile, post *feed.Post) error {
	parents := []string{post.ID}
	depth := faker.IntRange(0, 3)
	for level := 0; level < depth; level++ {
		var next []string
		for _, parentID := range parents {
			for i := 0; i < faker.IntRange(0, 2); i++ {
				author := users[faker.IntRange(0, len(users)-1)]
				node := feed.ReplyNode{
					ID:        uuid.NewString(),
					PostID:    post.ID,
					ParentID:  parentID,
					AuthorID:  author.ID,
					Username:  author.Username,
					Body:      faker.Sentence(faker.IntRange(3, 12)),
					CreatedAt: post.CreatedAt + int64(faker.IntRange(1, 48*3600)),
				}
				if err := write(ctx, be, backend.CollectionReplies, node.ID, node); err != nil {
					return fmt.Errorf("seeding reply: %w", err)
				}
				if err := notify(ctx, be, feed.NotificationReply, post.AuthorID, author.ID, post.ID, node.CreatedAt); err != nil {
					return err
				}
				next = append(next, node.ID)
			}
		}
		if len(next) == 0 {
			break
		}
		parents = next
	}
	return nil
}

func notify(ctx context.Context, be backend.Backend, kind feed.NotificationKind, recipientID, senderID, postID string, at int64) error {
	if recipientID == senderID {
		return nil
	}
	n := feed.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		SenderID:    senderID,
		Kind:        kind,
		PostID:      postID,
		CreatedAt:   at,
	}
	if err := write(ctx, be, backend.CollectionNotifications, n.ID, n); err != nil {
		return fmt.Errorf("seeding notification: %w", err)
	}
	return nil
}

func write(ctx context.Context, be backend.Backend, collection, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return be.Write(ctx, collection, id, data, backend.WriteInsert)
}

func indexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
