// Именованные резервные копии очереди. Снимок хранит полные записи постов,
// чтобы восстановление не зависело от текущего содержимого таблицы.
package store

import (
	"fmt"
	"sort"
	"time"

	"telegram-postbot/internal/domain/post"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
)

// backupKey — составной ключ "<user_id>:<name>": имена уникальны в пределах
// оператора, повторное сохранение перезаписывает снимок.
func backupKey(userID int64, name string) []byte {
	return fmt.Appendf(nil, "%d:%s", userID, name)
}

// SaveBackup снимает копию очереди оператора под заданным именем. В снимок
// входят только pending-посты: опубликованное и проваленное — история, а не
// очередь.
func (s *Store) SaveBackup(userID int64, name string) (*post.Backup, error) {
	if name == "" {
		return nil, errors.New("backup name is empty")
	}
	posts, err := s.ListPosts(Filter{UserID: userID, Status: post.StatusPending})
	if err != nil {
		return nil, err
	}
	snapshot := post.Backup{
		UserID:    userID,
		Name:      name,
		CreatedAt: time.Now(),
		Posts:     make([]post.Post, 0, len(posts)),
	}
	for _, p := range posts {
		snapshot.Posts = append(snapshot.Posts, *p.Clone())
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		data, err := encode(snapshot)
		if err != nil {
			return err
		}
		return tx.Bucket(backupsBucket).Put(backupKey(userID, name), data)
	})
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// GetBackup возвращает снимок по имени или ErrNotFound.
func (s *Store) GetBackup(userID int64, name string) (*post.Backup, error) {
	var snapshot *post.Backup
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(backupsBucket).Get(backupKey(userID, name))
		if data == nil {
			return errors.Wrapf(ErrNotFound, "backup %q for user %d", name, userID)
		}
		var rec post.Backup
		if err := decode(data, &rec); err != nil {
			return err
		}
		snapshot = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// ListBackups возвращает снимки оператора, новые первыми.
func (s *Store) ListBackups(userID int64) ([]post.Backup, error) {
	var out []post.Backup
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(backupsBucket).ForEach(func(_, v []byte) error {
			var rec post.Backup
			if err := decode(v, &rec); err != nil {
				return err
			}
			if rec.UserID == userID {
				out = append(out, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteBackup удаляет снимок. Отсутствие записи не ошибка.
func (s *Store) DeleteBackup(userID int64, name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(backupsBucket).Delete(backupKey(userID, name))
	})
}

// RestoreMode определяет, что делать с текущей очередью при восстановлении.
type RestoreMode int

const (
	// RestoreAdd добавляет посты снимка к существующим.
	RestoreAdd RestoreMode = iota
	// RestoreReplace предварительно опустошает очередь без расписания.
	RestoreReplace
)

// RestoreResult — сводка восстановления.
type RestoreResult struct {
	Restored int
	Skipped  int
	Removed  int
}

// RestoreBackup вставляет посты снимка как новые записи в статусе pending без
// расписания: привязка ко времени выполняется заново штатными командами.
// includeMissing=false пропускает посты, чей медиафайл отсутствует на диске.
func (s *Store) RestoreBackup(userID int64, name string, mode RestoreMode, includeMissing bool, fileExists func(string) bool) (*RestoreResult, error) {
	snapshot, err := s.GetBackup(userID, name)
	if err != nil {
		return nil, err
	}
	res := &RestoreResult{}
	if mode == RestoreReplace {
		removed, err := s.ClearQueued(userID, 0)
		if err != nil {
			return nil, err
		}
		res.Removed = len(removed)
	}
	for i := range snapshot.Posts {
		p := snapshot.Posts[i]
		if !includeMissing && fileExists != nil && !allFilesExist(&p, fileExists) {
			res.Skipped++
			continue
		}
		p.ID = 0
		p.Status = post.StatusPending
		p.ScheduledAt = nil
		p.RetryCount = 0
		p.FailureReason = ""
		if _, err := s.AddPost(&p); err != nil {
			// Канал мог быть отвязан после снятия снимка.
			if errors.Is(err, ErrNotOwner) {
				res.Skipped++
				continue
			}
			return nil, err
		}
		res.Restored++
	}
	return res, nil
}

func allFilesExist(p *post.Post, fileExists func(string) bool) bool {
	for _, ref := range p.MediaRefs() {
		if !fileExists(ref) {
			return false
		}
	}
	return true
}
