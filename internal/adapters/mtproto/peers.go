package mtproto

import (
	"context"
	"sync"
	"time"

	"telegram-postbot/internal/infra/logger"
	"telegram-postbot/internal/infra/storage"

	"github.com/go-faster/errors"
	bboltdb "github.com/gotd/contrib/bbolt"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
	"go.etcd.io/bbolt"
)

const (
	peersBucket   = "peers"
	dbOpenTimeout = time.Second

	dialogsPageLimit = 100
	// Полный перефетч диалогов — тяжёлая операция, чаще раза в пять минут
	// его не запускаем даже при нерезолвящихся каналах.
	minRefreshInterval = 5 * time.Minute
)

// peerCache резолвит каналы в tg.InputPeerClass. Access-hash живут в bbolt
// и переживают перезапуск; недостающие каналы добираются перефетчем диалогов.
type peerCache struct {
	db    *bbolt.DB
	store contribstorage.PeerStorage
	mgr   *peers.Manager
	api   *tg.Client

	mu          sync.Mutex
	lastRefresh time.Time
}

func newPeerCache(api *tg.Client, path string) (*peerCache, error) {
	if err := storage.EnsureDir(path); err != nil {
		return nil, errors.Wrap(err, "mtproto: peers dir")
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, errors.Wrap(err, "mtproto: open peers db")
	}
	return &peerCache{
		db:    db,
		store: bboltdb.NewPeerStorage(db, []byte(peersBucket)),
		mgr:   (peers.Options{}).Build(api),
		api:   api,
	}, nil
}

func (p *peerCache) Close() error {
	return p.db.Close()
}

// Warm инициализирует менеджер пиров и прогружает сохранённые сущности из
// bbolt в память. Сетевых запросов не делает: холодный кэш добирается
// лениво при первом нерезолвящемся канале.
func (p *peerCache) Warm(ctx context.Context) error {
	if err := p.mgr.Init(ctx); err != nil {
		return errors.Wrap(err, "mtproto: init peers manager")
	}

	users, chats, err := p.storedEntities(ctx)
	if err != nil {
		// Повреждённый кэш не блокирует запуск: пересоберётся из диалогов.
		logger.Warnf("MTProto: кэш пиров не прочитан, будет пересобран: %v", err)
		return nil
	}
	if len(users) == 0 && len(chats) == 0 {
		return nil
	}
	if err := p.mgr.Apply(ctx, users, chats); err != nil {
		return errors.Wrap(err, "mtproto: apply cached peers")
	}
	logger.Debugf("MTProto: кэш пиров прогрет: пользователей %d, чатов %d", len(users), len(chats))
	return nil
}

// Channel возвращает InputPeer канала. Если канал неизвестен менеджеру,
// один раз обновляет список диалогов и пробует снова.
func (p *peerCache) Channel(ctx context.Context, id int64) (tg.InputPeerClass, error) {
	channel, err := p.mgr.ResolveChannelID(ctx, id)
	if err == nil {
		return channel.InputPeer(), nil
	}
	if !isPeerNotFound(err) {
		return nil, errors.Wrapf(err, "resolve channel %d", id)
	}

	if refreshErr := p.refreshDialogs(ctx); refreshErr != nil {
		return nil, refreshErr
	}
	channel, err = p.mgr.ResolveChannelID(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve channel %d", id)
	}
	return channel.InputPeer(), nil
}

func isPeerNotFound(err error) bool {
	var nf *peers.PeerNotFoundError
	return errors.As(err, &nf)
}

// storedEntities переводит содержимое bbolt-кэша в слайсы для peers.Manager.
func (p *peerCache) storedEntities(ctx context.Context) ([]tg.UserClass, []tg.ChatClass, error) {
	exists := false
	if err := p.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket([]byte(peersBucket)) != nil
		return nil
	}); err != nil {
		return nil, nil, err
	}
	if !exists {
		return nil, nil, nil
	}

	iter, err := p.store.Iterate(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		_ = iter.Close()
	}()

	var (
		users []tg.UserClass
		chats []tg.ChatClass
	)
	for iter.Next(ctx) {
		value := iter.Value()
		switch value.Key.Kind {
		case dialogs.User:
			if value.User != nil {
				users = append(users, value.User)
			}
		case dialogs.Chat:
			if value.Chat != nil {
				chats = append(chats, value.Chat)
			}
		case dialogs.Channel:
			channel := value.Channel
			if channel == nil {
				channel = &tg.Channel{ID: value.Key.ID, AccessHash: value.Key.AccessHash}
			}
			chats = append(chats, channel)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, nil, err
	}
	return users, chats, nil
}

// refreshDialogs выгружает диалоги аккаунта, применяет сущности к менеджеру
// и персистит их в bbolt. Защищён от частых повторов.
func (p *peerCache) refreshDialogs(ctx context.Context) error {
	p.mu.Lock()
	if time.Since(p.lastRefresh) < minRefreshInterval {
		p.mu.Unlock()
		return errors.New("mtproto: channel is not in dialogs")
	}
	p.lastRefresh = time.Now()
	p.mu.Unlock()

	logger.Infof("MTProto: обновление списка диалогов для кэша пиров")
	users, chats, err := p.fetchDialogs(ctx)
	if err != nil {
		return errors.Wrap(err, "mtproto: fetch dialogs")
	}
	if err := p.mgr.Apply(ctx, users, chats); err != nil {
		return errors.Wrap(err, "mtproto: apply dialogs")
	}
	p.persist(ctx, users, chats)
	return nil
}

// persist сохраняет сущности с access-hash в bbolt. Ошибки записи не
// фатальны: кэш пересоберётся при следующем обновлении диалогов.
func (p *peerCache) persist(ctx context.Context, users []tg.UserClass, chats []tg.ChatClass) {
	saved := 0
	for _, u := range users {
		var value contribstorage.Peer
		if !value.FromUser(u) {
			continue
		}
		if err := p.store.Add(ctx, value); err != nil {
			logger.Debugf("MTProto: персист пользователя %d: %v", value.Key.ID, err)
			continue
		}
		saved++
	}
	for _, ch := range chats {
		var value contribstorage.Peer
		if !value.FromChat(ch) {
			continue
		}
		if err := p.store.Add(ctx, value); err != nil {
			logger.Debugf("MTProto: персист чата %d: %v", value.Key.ID, err)
			continue
		}
		saved++
	}
	logger.Debugf("MTProto: сохранено пиров: %d", saved)
}

// fetchDialogs постранично выгружает диалоги через MessagesGetDialogs.
// Пагинация по (offset_date, offset_id, offset_peer); access-hash для
// offset_peer собираются по ходу из уже полученных страниц.
func (p *peerCache) fetchDialogs(ctx context.Context) ([]tg.UserClass, []tg.ChatClass, error) {
	var (
		users []tg.UserClass
		chats []tg.ChatClass
	)

	offsetDate, offsetID := 0, 0
	var offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}
	userHashes := make(map[int64]int64)
	channelHashes := make(map[int64]int64)

	for {
		resp, err := p.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      dialogsPageLimit,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "messages.getDialogs")
		}

		batch, done, err := normalizeDialogs(resp)
		if err != nil {
			return nil, nil, err
		}
		if done || len(batch.Dialogs) == 0 {
			break
		}

		users = append(users, batch.Users...)
		chats = append(chats, batch.Chats...)
		collectHashes(batch, userHashes, channelHashes)

		last, ok := lastDialogOffsets(batch, userHashes, channelHashes)
		if !ok {
			break
		}
		if last.date != 0 {
			offsetDate = last.date
		}
		if last.id != 0 {
			offsetID = last.id
		}
		offsetPeer = last.peer

		if len(batch.Dialogs) < dialogsPageLimit {
			break
		}
	}
	return users, chats, nil
}

func normalizeDialogs(resp tg.MessagesDialogsClass) (*tg.MessagesDialogs, bool, error) {
	switch data := resp.(type) {
	case *tg.MessagesDialogs:
		return data, false, nil
	case *tg.MessagesDialogsSlice:
		return &tg.MessagesDialogs{
			Dialogs:  data.Dialogs,
			Messages: data.Messages,
			Chats:    data.Chats,
			Users:    data.Users,
		}, false, nil
	case *tg.MessagesDialogsNotModified:
		return nil, true, nil
	default:
		return nil, false, errors.Errorf("unexpected dialogs response %T", resp)
	}
}

func collectHashes(batch *tg.MessagesDialogs, userHashes, channelHashes map[int64]int64) {
	for _, entity := range batch.Users {
		if user, ok := entity.(*tg.User); ok {
			userHashes[user.ID] = user.AccessHash
		}
	}
	for _, entity := range batch.Chats {
		if channel, ok := entity.(*tg.Channel); ok {
			channelHashes[channel.ID] = channel.AccessHash
		}
	}
}

type dialogOffsets struct {
	date int
	id   int
	peer tg.InputPeerClass
}

func lastDialogOffsets(batch *tg.MessagesDialogs, userHashes, channelHashes map[int64]int64) (dialogOffsets, bool) {
	if len(batch.Dialogs) == 0 {
		return dialogOffsets{}, false
	}

	var topMessage int
	var peerID tg.PeerClass
	switch dlg := batch.Dialogs[len(batch.Dialogs)-1].(type) {
	case *tg.Dialog:
		topMessage, peerID = dlg.TopMessage, dlg.Peer
	case *tg.DialogFolder:
		topMessage, peerID = dlg.TopMessage, dlg.Peer
	default:
		return dialogOffsets{peer: &tg.InputPeerEmpty{}}, true
	}

	offsets := dialogOffsets{
		id:   topMessage,
		date: messageDate(batch.Messages, topMessage),
		peer: peerToInput(peerID, userHashes, channelHashes),
	}
	return offsets, true
}

func messageDate(messages []tg.MessageClass, id int) int {
	for _, msg := range messages {
		switch m := msg.(type) {
		case *tg.Message:
			if m.ID == id {
				return m.Date
			}
		case *tg.MessageService:
			if m.ID == id {
				return m.Date
			}
		}
	}
	return 0
}

func peerToInput(peer tg.PeerClass, userHashes, channelHashes map[int64]int64) tg.InputPeerClass {
	switch entity := peer.(type) {
	case *tg.PeerUser:
		return &tg.InputPeerUser{UserID: entity.UserID, AccessHash: userHashes[entity.UserID]}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: entity.ChatID}
	case *tg.PeerChannel:
		return &tg.InputPeerChannel{ChannelID: entity.ChannelID, AccessHash: channelHashes[entity.ChannelID]}
	default:
		return &tg.InputPeerEmpty{}
	}
}
