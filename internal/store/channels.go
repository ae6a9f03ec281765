// Каналы операторов и пакеты. Ключ канала — составной "<user_id>:<channel_id>",
// что даёт уникальность пары и дешёвую проверку владения точечным Get.
package store

import (
	"fmt"
	"sort"
	"time"

	"telegram-postbot/internal/domain/post"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
)

// channelKey строит ключ записи канала.
func channelKey(userID, channelID int64) []byte {
	return fmt.Appendf(nil, "%d:%d", userID, channelID)
}

// AddChannel регистрирует канал за оператором. Повторная регистрация той же
// пары — ErrDuplicate.
func (s *Store) AddChannel(userID, channelID int64, name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(channelsBucket)
		key := channelKey(userID, channelID)
		if b.Get(key) != nil {
			return errors.Wrapf(ErrDuplicate, "channel %d for user %d", channelID, userID)
		}
		rec := post.Channel{
			UserID:    userID,
			ChannelID: channelID,
			Name:      name,
			CreatedAt: time.Now(),
		}
		data, err := encode(rec)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// RemoveChannel снимает привязку канала. Посты канала остаются и при
// публикации упрутся в проверку владения.
func (s *Store) RemoveChannel(userID, channelID int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(channelsBucket).Delete(channelKey(userID, channelID))
	})
}

// UserChannels возвращает каналы оператора, упорядоченные по имени.
func (s *Store) UserChannels(userID int64) ([]post.Channel, error) {
	var channels []post.Channel
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(channelsBucket).ForEach(func(_, v []byte) error {
			var ch post.Channel
			if err := decode(v, &ch); err != nil {
				return err
			}
			if ch.UserID == userID {
				channels = append(channels, ch)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(channels, func(i, j int) bool {
		if channels[i].Name == channels[j].Name {
			return channels[i].ChannelID < channels[j].ChannelID
		}
		return channels[i].Name < channels[j].Name
	})
	return channels, nil
}

// ChannelName возвращает отображаемое имя канала или пустую строку.
func (s *Store) ChannelName(userID, channelID int64) string {
	var name string
	_ = s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(channelsBucket).Get(channelKey(userID, channelID))
		if data == nil {
			return nil
		}
		var ch post.Channel
		if err := decode(data, &ch); err != nil {
			return nil //nolint:nilerr // битая запись не должна ломать отображение
		}
		name = ch.Name
		return nil
	})
	return name
}

// FindChannelByName ищет канал оператора по отображаемому имени.
func (s *Store) FindChannelByName(userID int64, name string) (*post.Channel, error) {
	channels, err := s.UserChannels(userID)
	if err != nil {
		return nil, err
	}
	for i := range channels {
		if channels[i].Name == name {
			return &channels[i], nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "channel %q for user %d", name, userID)
}

// UserHasChannel — проверка владения. Обязана вызываться на каждой записи,
// связывающей пост с каналом, и при каждой публикации.
func (s *Store) UserHasChannel(userID, channelID int64) bool {
	var owned bool
	_ = s.db.View(func(tx *bbolt.Tx) error {
		owned = channelOwnedTx(tx, userID, channelID)
		return nil
	})
	return owned
}

// AllUsers возвращает id всех операторов, у которых зарегистрирован хотя бы
// один канал.
func (s *Store) AllUsers() ([]int64, error) {
	seen := make(map[int64]struct{})
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(channelsBucket).ForEach(func(_, v []byte) error {
			var ch post.Channel
			if err := decode(v, &ch); err != nil {
				return err
			}
			seen[ch.UserID] = struct{}{}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	users := make([]int64, 0, len(seen))
	for id := range seen {
		users = append(users, id)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}

// channelOwnedTx — проверка владения внутри открытой транзакции.
func channelOwnedTx(tx *bbolt.Tx, userID, channelID int64) bool {
	return tx.Bucket(channelsBucket).Get(channelKey(userID, channelID)) != nil
}

// CreateBatch создаёт пакет в статусе pending и возвращает его id.
// Канал пакета обязан принадлежать оператору.
func (s *Store) CreateBatch(userID int64, name string, channelID int64) (int64, error) {
	var id int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if !channelOwnedTx(tx, userID, channelID) {
			return errors.Wrapf(ErrNotOwner, "user %d channel %d", userID, channelID)
		}
		b := tx.Bucket(batchesBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return errors.Wrap(err, "next sequence")
		}
		id = int64(seq)
		rec := post.Batch{
			ID:        id,
			UserID:    userID,
			Name:      name,
			ChannelID: channelID,
			Status:    post.BatchPending,
			CreatedAt: time.Now(),
		}
		data, err := encode(rec)
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetBatch возвращает пакет или ErrNotFound.
func (s *Store) GetBatch(id int64) (*post.Batch, error) {
	var batch *post.Batch
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(batchesBucket).Get(itob(id))
		if data == nil {
			return errors.Wrapf(ErrNotFound, "batch %d", id)
		}
		var rec post.Batch
		if err := decode(data, &rec); err != nil {
			return err
		}
		batch = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// ListBatches возвращает пакеты оператора по возрастанию id.
func (s *Store) ListBatches(userID int64) ([]post.Batch, error) {
	var batches []post.Batch
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(batchesBucket).ForEach(func(_, v []byte) error {
			var rec post.Batch
			if err := decode(v, &rec); err != nil {
				return err
			}
			if rec.UserID == userID {
				batches = append(batches, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// MarkBatchScheduled переводит пакет в статус scheduled.
func (s *Store) MarkBatchScheduled(id int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(batchesBucket)
		data := b.Get(itob(id))
		if data == nil {
			return errors.Wrapf(ErrNotFound, "batch %d", id)
		}
		var rec post.Batch
		if err := decode(data, &rec); err != nil {
			return err
		}
		rec.Status = post.BatchScheduled
		updated, err := encode(rec)
		if err != nil {
			return err
		}
		return b.Put(itob(id), updated)
	})
}
