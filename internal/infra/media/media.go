// Хранилище загруженных медиафайлов. Файлы именуются UUID, чтобы параллельные
// загрузки разных операторов не сталкивались; исходное имя сохраняется только
// расширением.
package media

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"telegram-postbot/internal/domain/post"
	"telegram-postbot/internal/infra/logger"
	"telegram-postbot/internal/infra/storage"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Store раздаёт и убирает файлы внутри одного корневого каталога.
type Store struct {
	root string
}

// New создаёт хранилище в каталоге root, создавая его при необходимости.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("media: empty uploads dir")
	}
	if err := storage.EnsureDir(root); err != nil {
		return nil, errors.Wrap(err, "media: ensure uploads dir")
	}
	return &Store{root: root}, nil
}

// Root возвращает корневой каталог хранилища.
func (s *Store) Root() string { return s.root }

// ext выбирает расширение сохраняемого файла: из исходного имени, иначе по
// виду медиа.
func ext(hint string, kind post.MediaKind) string {
	if e := strings.ToLower(filepath.Ext(hint)); e != "" && len(e) <= 8 {
		return e
	}
	switch kind {
	case post.KindPhoto, post.KindDocumentImage:
		return ".jpg"
	case post.KindVideo, post.KindDocumentVideo:
		return ".mp4"
	case post.KindAudio:
		return ".mp3"
	case post.KindAnimation:
		return ".gif"
	default:
		return ".bin"
	}
}

// Save выкачивает содержимое r в новый файл хранилища и возвращает путь.
// Запись атомарна: частично скачанный файл не виден под итоговым именем.
func (s *Store) Save(r io.Reader, hint string, kind post.MediaKind) (string, error) {
	name := uuid.NewString() + ext(hint, kind)
	path := filepath.Join(s.root, name)
	n, err := storage.AtomicWriteReader(path, r)
	if err != nil {
		return "", errors.Wrapf(err, "media: save %s", name)
	}
	logger.Debugf("media: saved %s (%d bytes)", name, n)
	return path, nil
}

// resolve нормализует ссылку и запрещает выход за корень хранилища.
func (s *Store) resolve(ref string) (string, error) {
	path := filepath.Clean(ref)
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("media: reference %q escapes uploads dir", ref)
	}
	return path, nil
}

// Open открывает файл хранилища на чтение.
func (s *Store) Open(ref string) (io.ReadCloser, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "media: open %s", ref)
	}
	return f, nil
}

// Exists сообщает, лежит ли файл по ссылке в хранилище.
func (s *Store) Exists(ref string) bool {
	path, err := s.resolve(ref)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Delete удаляет файл. Отсутствие файла не ошибка: пост могли очистить дважды.
func (s *Store) Delete(ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "media: delete %s", ref)
	}
	return nil
}

// Sweep удаляет файлы старше cutoff, на которые keep не претендует, и
// возвращает число удалённых. keep == nil означает «хранить нечего»: под
// вынос идут все старые файлы. Используется ежедневной уборкой для
// осиротевших загрузок.
func (s *Store) Sweep(cutoff time.Time, keep func(ref string) bool) (int, error) {
	removed := 0
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr // файл исчез между листингом и stat
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if keep != nil && keep(filepath.Clean(path)) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			logger.Warnf("media: sweep %s: %v", path, err)
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, errors.Wrap(err, "media: sweep")
	}
	return removed, nil
}

// RemoveEmptyDirs убирает опустевшие подкаталоги, оставляя сам корень.
func (s *Store) RemoveEmptyDirs() {
	var dirs []string
	_ = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() && path != s.root {
			dirs = append(dirs, path)
		}
		return nil
	})
	// Вложенные каталоги удаляются раньше родительских.
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Remove(dirs[i]); err == nil {
			logger.Debugf("media: removed empty dir %s", dirs[i])
		}
	}
}
