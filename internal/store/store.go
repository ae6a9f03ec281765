// Пакет store — авторитетное персистентное хранилище планировщика на bbolt.
// Одна «таблица» — один bucket; записи сериализуются в JSON. Каждая операция
// выполняется в отдельной транзакции: Update сериализует запись (на уровне
// файла базы), View отдаёт зафиксированное состояние читателям. Возвращаемые
// записи — глубокие копии, мутации вызывающего кода в базу не протекают.
package store

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"telegram-postbot/internal/infra/logger"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
)

// Имена bucket'ов. Менять нельзя без миграции существующих баз.
const (
	postsBucketName     = "posts"
	channelsBucketName  = "channels"
	batchesBucketName   = "batches"
	backupsBucketName   = "backups"
	sessionsBucketName  = "sessions"
	schedCfgBucketName  = "scheduling_config"
	remindersBucketName = "reminder_settings"
)

var (
	postsBucket     = []byte(postsBucketName)
	channelsBucket  = []byte(channelsBucketName)
	batchesBucket   = []byte(batchesBucketName)
	backupsBucket   = []byte(backupsBucketName)
	sessionsBucket  = []byte(sessionsBucketName)
	schedCfgBucket  = []byte(schedCfgBucketName)
	remindersBucket = []byte(remindersBucketName)
)

// Параметры открытия файла базы.
const (
	dbOpenTimeout             = time.Second
	dbFileMode    os.FileMode = 0o600
)

// Ошибки уровня хранилища. Проверяются через errors.Is.
var (
	ErrNotFound   = errors.New("store: record not found")
	ErrNotOwner   = errors.New("store: channel does not belong to user")
	ErrTerminal   = errors.New("store: post already in terminal state")
	ErrNotFailed  = errors.New("store: post is not in failed state")
	ErrDuplicate  = errors.New("store: record already exists")
	ErrBadPayload = errors.New("store: malformed record payload")
)

// Store инкапсулирует bbolt-базу планировщика. Безопасен для конкурентного
// использования: bbolt сериализует пишущие транзакции, читатели работают по
// MVCC-снимкам.
type Store struct {
	db *bbolt.DB
}

// Open открывает (или создаёт) файл базы и гарантирует наличие всех bucket'ов.
// Файл блокируется на процесс: второй экземпляр диспетчера не сможет открыть
// ту же базу (таймаут dbOpenTimeout).
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.Wrapf(err, "store: ensure dir %q", dir)
		}
	}

	db, err := bbolt.Open(path, dbFileMode, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, errors.Wrapf(err, "store: open %q", path)
	}

	buckets := [][]byte{
		postsBucket, channelsBucket, batchesBucket, backupsBucket,
		sessionsBucket, schedCfgBucket, remindersBucket,
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, bErr := tx.CreateBucketIfNotExists(name); bErr != nil {
				return errors.Wrapf(bErr, "create bucket %q", name)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debugf("store: opened %s", path)
	return &Store{db: db}, nil
}

// Close закрывает файл базы. Повторный вызов безопасен.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path возвращает путь к файлу базы (для диагностики).
func (s *Store) Path() string {
	return s.db.Path()
}

// itob кодирует int64 в big-endian ключ: порядок байтов совпадает с числовым,
// поэтому курсор bucket'а обходит записи по возрастанию id.
func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// encode сериализует запись в JSON для хранения.
func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "store: marshal record")
	}
	return data, nil
}

// decode разбирает JSON-запись; битые байты считаются ErrBadPayload.
func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(ErrBadPayload, "unmarshal: %v", err)
	}
	return nil
}
