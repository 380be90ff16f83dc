package session

// Пакет session содержит каталог файлов MTProto-сессий и реализацию
// tdsession.Storage поверх обычного файла. Цели:
//   - перечисление и удаление именованных сессий каталога (web-API);
//   - атомарная запись файла сессии на диск (без частичных состояний);
//   - потокобезопасный доступ к файловой системе при конкурирующих вызовах.

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"telegram-bridge/internal/infra/storage"

	"github.com/go-faster/errors"

	tdsession "github.com/gotd/td/session"
)

// sessionExt — расширение файлов сессий в каталоге.
const sessionExt = ".session"

// ErrSessionNotFound возвращается при обращении к сессии, файла которой нет.
var ErrSessionNotFound = errors.New("session not found")

// ErrBadSessionName возвращается для имён, которые нельзя безопасно
// отобразить в путь внутри каталога сессий.
var ErrBadSessionName = errors.New("invalid session name")

// Store — каталог именованных файлов сессий. Имя сессии отображается в файл
// <dir>/<name>.session. Все операции валидируют имя, чтобы исключить выход за
// пределы каталога.
type Store struct {
	dir string
}

// NewStore создаёт каталог сессий, гарантируя существование директории.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create sessions dir")
	}
	return &Store{dir: dir}, nil
}

// Dir возвращает путь каталога сессий.
func (s *Store) Dir() string { return s.dir }

// ValidateName проверяет, что имя сессии безопасно для использования как имя
// файла: непустое, без разделителей пути и переходов наверх.
func ValidateName(name string) error {
	if name == "" {
		return errors.Wrap(ErrBadSessionName, "empty name")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." ||
		strings.Contains(name, "..") {
		return errors.Wrapf(ErrBadSessionName, "name %q", name)
	}
	return nil
}

// Path возвращает путь до файла сессии по имени. Имя должно быть валидным.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+sessionExt)
}

// Exists сообщает, существует ли файл сессии с данным именем.
func (s *Store) Exists(name string) bool {
	if ValidateName(name) != nil {
		return false
	}
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// List возвращает отсортированный список имён сессий каталога.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "read sessions dir")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), sessionExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), sessionExt))
	}
	sort.Strings(names)
	return names, nil
}

// Remove удаляет файл сессии. Возвращает ErrSessionNotFound, если файла нет.
func (s *Store) Remove(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	err := os.Remove(s.Path(name))
	if os.IsNotExist(err) {
		return errors.Wrapf(ErrSessionNotFound, "session %q", name)
	}
	if err != nil {
		return errors.Wrap(err, "remove session file")
	}
	return nil
}

// Storage возвращает tdsession.Storage, работающий с файлом данной сессии.
func (s *Store) Storage(name string) *FileStorage {
	return &FileStorage{Path: s.Path(name)}
}

// FileStorage реализует tdsession.Storage поверх обычного файла.
// Потокобезопасен: операции Load/Store защищены мьютексом. Поле Path указывает
// абсолютный или относительный путь до файла сессии на диске.
type FileStorage struct {
	Path string
	mux  sync.Mutex
}

// Компиляторная проверка соответствия интерфейсу tdsession.Storage.
var _ tdsession.Storage = (*FileStorage)(nil)

// LoadSession читает файл сессии с диска.
func (f *FileStorage) LoadSession(_ context.Context) ([]byte, error) {
	if f == nil {
		return nil, errors.New("nil session storage is invalid")
	}
	f.mux.Lock()
	defer f.mux.Unlock()

	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return nil, tdsession.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session")
	}
	return data, nil
}

// StoreSession атомарно сохраняет данные сессии на диск.
func (f *FileStorage) StoreSession(_ context.Context, data []byte) error {
	if f == nil {
		return errors.New("nil session storage is invalid")
	}

	f.mux.Lock()
	defer f.mux.Unlock()

	if err := storage.AtomicWriteFile(f.Path, data); err != nil {
		return fmt.Errorf("atomic write session: %w", err)
	}
	return nil
}
