package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/inkwell-ui/inkwell/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the session and article store interfaces using a BoltDB
// backend. Sessions and articles are stored as one JSON value per entity in
// two dedicated buckets, written through on every mutation.
//
// Mutations targeting a session, message, or article that no longer exists
// are silent no-ops. Deletions racing with an in-flight generation are
// expected and must not corrupt unrelated state.
type BoltDB struct {
	db *bolt.DB
}

var (
	sessionsBucket = []byte("sessions")
	articlesBucket = []byte("articles")
)

// NewBoltDB creates a new BoltDB instance with the specified file path. It
// initializes the database with the required buckets and returns an error if
// the database cannot be opened or initialized. The database file is created
// with 0600 permissions if it doesn't exist.
//
// Opening also clears any message still flagged as streaming: every fold step
// is written through, so a process killed mid-generation leaves its
// placeholder flagged, and no generation survives a restart.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(sessionsBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(articlesBucket); err != nil {
			return err
		}
		return clearStreamingFlags(tx)
	})

	return BoltDB{db: db}, err
}

// clearStreamingFlags rewrites sessions holding messages flagged as
// streaming. UpdatedAt is left alone so recovery does not reorder the
// session list.
func clearStreamingFlags(tx *bolt.Tx) error {
	bkt := tx.Bucket(sessionsBucket)

	stale := map[string][]byte{}
	err := bkt.ForEach(func(k, v []byte) error {
		var session models.ChatSession
		if err := json.Unmarshal(v, &session); err != nil {
			return nil
		}

		dirty := false
		for i := range session.Messages {
			if session.Messages[i].IsStreaming {
				session.Messages[i].IsStreaming = false
				dirty = true
			}
		}
		if !dirty {
			return nil
		}

		nv, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		stale[string(k)] = nv
		return nil
	})
	if err != nil {
		return err
	}

	for k, v := range stale {
		if err := bkt.Put([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

// Sessions retrieves all stored chat sessions ordered most-recently-updated
// first. Entries that fail to decode are skipped rather than failing the
// whole read, so a corrupt record cannot block startup.
func (b BoltDB) Sessions(context.Context) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(sessionsBucket)
		if bkt == nil {
			return nil
		}

		return bkt.ForEach(func(_, v []byte) error {
			var session models.ChatSession
			if err := json.Unmarshal(v, &session); err != nil {
				return nil
			}
			sessions = append(sessions, session)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(sessions, func(a, b models.ChatSession) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return sessions, nil
}

// Session retrieves a single session by ID. The second return value reports
// whether the session exists.
func (b BoltDB) Session(_ context.Context, id string) (models.ChatSession, bool, error) {
	var (
		session models.ChatSession
		found   bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(sessionsBucket)
		if bkt == nil {
			return nil
		}

		v := bkt.Get([]byte(id))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &session); err != nil {
			return nil
		}
		found = true
		return nil
	})
	return session, found, err
}

// AddSession stores a new chat session record.
func (b BoltDB) AddSession(_ context.Context, session models.ChatSession) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(sessionsBucket)
		if bkt == nil {
			return nil
		}

		v, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		return bkt.Put([]byte(session.ID), v)
	})
}

// DeleteSession removes the session record. Deleting an absent session is a
// no-op.
func (b BoltDB) DeleteSession(_ context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(sessionsBucket)
		if bkt == nil {
			return nil
		}
		return bkt.Delete([]byte(id))
	})
}

// AppendMessage appends a message to the target session's log and bumps its
// UpdatedAt. It is a no-op if the session no longer exists.
func (b BoltDB) AppendMessage(_ context.Context, sessionID string, message models.Message) error {
	return b.mutateSession(sessionID, func(session *models.ChatSession) {
		session.Messages = append(session.Messages, message)
	})
}

// UpdateMessageContent replaces the content of the single message matching
// messageID within the session, leaving every other message untouched. It is
// a no-op if the session or message is absent.
func (b BoltDB) UpdateMessageContent(_ context.Context, sessionID, messageID, content string) error {
	return b.mutateSession(sessionID, func(session *models.ChatSession) {
		for i := range session.Messages {
			if session.Messages[i].ID == messageID {
				session.Messages[i].Content = content
				return
			}
		}
	})
}

// SetMessageStreaming flips the streaming flag on the matching message. It is
// a no-op if the session or message is absent.
func (b BoltDB) SetMessageStreaming(_ context.Context, sessionID, messageID string, streaming bool) error {
	return b.mutateSession(sessionID, func(session *models.ChatSession) {
		for i := range session.Messages {
			if session.Messages[i].ID == messageID {
				session.Messages[i].IsStreaming = streaming
				return
			}
		}
	})
}

// SetSessionTitle replaces the session title. It is a no-op if the session is
// absent.
func (b BoltDB) SetSessionTitle(_ context.Context, sessionID, title string) error {
	return b.mutateSession(sessionID, func(session *models.ChatSession) {
		session.Title = title
	})
}

func (b BoltDB) mutateSession(sessionID string, mutate func(*models.ChatSession)) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(sessionsBucket)
		if bkt == nil {
			return nil
		}

		v := bkt.Get([]byte(sessionID))
		if v == nil {
			return nil
		}

		var session models.ChatSession
		if err := json.Unmarshal(v, &session); err != nil {
			return nil
		}

		mutate(&session)
		session.UpdatedAt = time.Now()

		v, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		return bkt.Put([]byte(sessionID), v)
	})
}

// Articles retrieves all stored articles in most-recent-first order. Entries
// that fail to decode are skipped.
func (b BoltDB) Articles(context.Context) ([]models.Article, error) {
	var articles []models.Article
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(articlesBucket)
		if bkt == nil {
			return nil
		}

		return bkt.ForEach(func(_, v []byte) error {
			var article models.Article
			if err := json.Unmarshal(v, &article); err != nil {
				return nil
			}
			articles = append(articles, article)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(articles)
	return articles, nil
}

// Article retrieves a single article by ID. The second return value reports
// whether the article exists.
func (b BoltDB) Article(_ context.Context, id string) (models.Article, bool, error) {
	var (
		article models.Article
		found   bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(articlesBucket)
		if bkt == nil {
			return nil
		}

		return bkt.ForEach(func(_, v []byte) error {
			var a models.Article
			if err := json.Unmarshal(v, &a); err != nil {
				return nil
			}
			if a.ID == id {
				article = a
				found = true
			}
			return nil
		})
	})
	return article, found, err
}

// AddArticle stores a new article. Articles are keyed by a sequence number so
// iteration order matches insertion order; Articles reverses it to present
// the newest entry first.
func (b BoltDB) AddArticle(_ context.Context, article models.Article) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(articlesBucket)
		if bkt == nil {
			return nil
		}

		seq, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		v, err := json.Marshal(article)
		if err != nil {
			return fmt.Errorf("failed to marshal article: %w", err)
		}

		return bkt.Put(articleKey(seq, article.ID), v)
	})
}

// UpdateArticle replaces an existing article record wholesale. It is a no-op
// if the article no longer exists.
func (b BoltDB) UpdateArticle(_ context.Context, article models.Article) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(articlesBucket)
		if bkt == nil {
			return nil
		}

		key, found := findArticleKey(bkt, article.ID)
		if !found {
			return nil
		}

		v, err := json.Marshal(article)
		if err != nil {
			return fmt.Errorf("failed to marshal article: %w", err)
		}

		return bkt.Put(key, v)
	})
}

// DeleteArticle removes the article record. Deleting an absent article is a
// no-op.
func (b BoltDB) DeleteArticle(_ context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(articlesBucket)
		if bkt == nil {
			return nil
		}

		key, found := findArticleKey(bkt, id)
		if !found {
			return nil
		}
		return bkt.Delete(key)
	})
}

func articleKey(seq uint64, id string) []byte {
	return []byte(fmt.Sprintf("%020d-%s", seq, id))
}

func findArticleKey(bkt *bolt.Bucket, id string) ([]byte, bool) {
	var key []byte
	_ = bkt.ForEach(func(k, v []byte) error {
		var a models.Article
		if err := json.Unmarshal(v, &a); err != nil {
			return nil
		}
		if a.ID == id {
			key = slices.Clone(k)
		}
		return nil
	})
	return key, key != nil
}
