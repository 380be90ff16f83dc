// Package peersmgr — обёртка над gotd peers.Manager с персистентным хранилищем
// на bbolt. Каждая попытка подключения получает собственный сервис пиров с
// файлом кэша на сессию. Сервис отвечает за:
//   - открытие/закрытие базы данных кэша пиров;
//   - подготовку менеджера пиров (в памяти) и доступ к нему;
//   - загрузку сохранённых peers из файла в менеджер при старте;
//   - разрешение адресата исходящей отправки по числовому ID или username.
package peersmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bboltdb "github.com/gotd/contrib/bbolt"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
	"go.etcd.io/bbolt"
)

const (
	peersBucketName             = "peers"
	dbOpenTimeout               = time.Second
	dbFileMode      os.FileMode = 0o600
)

// superPrefix — префикс «супергруппных» идентификаторов вида -100<channel_id>,
// приходящих от внешних интеграций в текстовой форме.
const superPrefix int64 = -1000000000000

var peersBucketBytes = []byte(peersBucketName)

// Service инкапсулирует менеджер пиров и bbolt-хранилище.
type Service struct {
	db    *bbolt.DB
	store contribstorage.PeerStorage
	Mgr   *peers.Manager
}

// New создаёт сервис пиров поверх bbolt и gotd peers.Manager.
// Сетевые запросы не выполняются; прогрузка кэша — через LoadFromStorage.
func New(api *tg.Client, dbPath string) (*Service, error) {
	if api == nil {
		return nil, errors.New("peersmgr: api client is nil")
	}
	path := strings.TrimSpace(dbPath)
	if path == "" {
		return nil, errors.New("peersmgr: db path is empty")
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("peersmgr: ensure dir %q: %w", dir, err)
		}
	}

	db, err := bbolt.Open(path, dbFileMode, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("peersmgr: open db: %w", err)
	}

	return &Service{
		db:    db,
		store: bboltdb.NewPeerStorage(db, peersBucketBytes),
		Mgr:   (peers.Options{}).Build(api),
	}, nil
}

// Close закрывает файл базы данных.
func (s *Service) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Store возвращает персистентное хранилище пиров (для UpdateHook).
func (s *Service) Store() contribstorage.PeerStorage {
	return s.store
}

// LoadFromStorage прогружает сохранённые peers из bbolt в оперативный peers.Manager.
func (s *Service) LoadFromStorage(ctx context.Context) error {
	iter, exists, err := s.iterateStoredPeers(ctx)
	if err != nil {
		if isJSONUnmarshalError(err) {
			_ = s.resetPeersBucket()
			return nil
		}
		return fmt.Errorf("peersmgr: iterate stored peers: %w", err)
	}
	if !exists {
		return nil
	}
	defer func() {
		_ = iter.Close()
	}()

	users := make([]tg.UserClass, 0)
	chats := make([]tg.ChatClass, 0)

	for iter.Next(ctx) {
		value := iter.Value()
		switch value.Key.Kind {
		case dialogs.User:
			user := value.User
			if user == nil {
				user = &tg.User{
					ID:         value.Key.ID,
					AccessHash: value.Key.AccessHash,
				}
			}
			users = append(users, user)
		case dialogs.Chat:
			chat := value.Chat
			if chat == nil {
				chat = &tg.Chat{ID: value.Key.ID}
			}
			chats = append(chats, chat)
		case dialogs.Channel:
			channel := value.Channel
			if channel == nil {
				channel = &tg.Channel{
					ID:         value.Key.ID,
					AccessHash: value.Key.AccessHash,
				}
			}
			chats = append(chats, channel)
		}
	}

	if err = iter.Err(); err != nil {
		return fmt.Errorf("peersmgr: iterate stored peers: %w", err)
	}
	if len(users) == 0 && len(chats) == 0 {
		return nil
	}
	return s.Mgr.Apply(ctx, users, chats)
}

// InputPeerForID подбирает tg.InputPeerClass по «голому» числовому
// идентификатору без явного типа. Отрицательные формы трактуются как у Bot API:
// -100<id> — канал/супергруппа, прочие отрицательные — обычная группа.
// Положительный id пробуется как пользователь, затем группа, затем канал.
func (s *Service) InputPeerForID(ctx context.Context, id int64) (tg.InputPeerClass, error) {
	switch {
	case id < superPrefix:
		channel, err := s.Mgr.ResolveChannelID(ctx, superPrefix-id)
		if err != nil {
			return nil, fmt.Errorf("resolve channel %d: %w", superPrefix-id, err)
		}
		return channel.InputPeer(), nil
	case id < 0:
		chat, err := s.Mgr.ResolveChatID(ctx, -id)
		if err != nil {
			return nil, fmt.Errorf("resolve chat %d: %w", -id, err)
		}
		return chat.InputPeer(), nil
	}

	if user, err := s.Mgr.ResolveUserID(ctx, id); err == nil {
		return user.InputPeer(), nil
	}
	if chat, err := s.Mgr.ResolveChatID(ctx, id); err == nil {
		return chat.InputPeer(), nil
	}
	channel, err := s.Mgr.ResolveChannelID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve peer %d: %w", id, err)
	}
	return channel.InputPeer(), nil
}

// InputPeerForUsername разрешает username в tg.InputPeerClass через менеджер
// пиров (с обращением к сети при промахе кэша).
func (s *Service) InputPeerForUsername(ctx context.Context, username string) (tg.InputPeerClass, error) {
	peer, err := s.Mgr.ResolveDomain(ctx, strings.TrimPrefix(username, "@"))
	if err != nil {
		return nil, fmt.Errorf("resolve username %q: %w", username, err)
	}
	return peer.InputPeer(), nil
}

func (s *Service) iterateStoredPeers(ctx context.Context) (contribstorage.PeerIterator, bool, error) {
	exists := false
	if err := s.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(peersBucketBytes) != nil
		return nil
	}); err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, nil
	}
	iter, err := s.store.Iterate(ctx)
	if err != nil {
		return nil, false, err
	}
	return iter, true, nil
}

func isJSONUnmarshalError(err error) bool {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return true
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return true
	}
	return strings.Contains(err.Error(), "json:")
}

func (s *Service) resetPeersBucket() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(peersBucketBytes); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(peersBucketBytes)
		return err
	})
}
