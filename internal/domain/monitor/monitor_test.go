package monitor_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"telegram-postbot/internal/domain/monitor"
	"telegram-postbot/internal/domain/post"
	"telegram-postbot/internal/infra/media"
	"telegram-postbot/internal/store"
)

const (
	testUser    = int64(100)
	testChannel = int64(-1001234567890)
)

// fakeTimers запоминает регистрации вместо взведения настоящих таймеров.
type fakeTimers struct {
	mu    sync.Mutex
	regs  map[int64]time.Time
	calls int
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{regs: make(map[int64]time.Time)}
}

func (f *fakeTimers) Register(id int64, t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[id] = t
	f.calls++
}

func (f *fakeTimers) ActiveIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int64, 0, len(f.regs))
	for id := range f.regs {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeTimers) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.regs)
}

func (f *fakeTimers) at(id int64) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.regs[id]
	return t, ok
}

func (f *fakeTimers) registered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// drop имитирует потерю таймера диспетчером.
func (f *fakeTimers) drop(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.regs, id)
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeNotifier) NotifyOperator(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeNotifier) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type harness struct {
	store    *store.Store
	timers   *fakeTimers
	notifier *fakeNotifier
	media    *media.Store
	mon      *monitor.Monitor
	now      time.Time
}

// newHarness собирает монитор на настоящем хранилище и фиктивных таймерах.
// Фоновые циклы не запускаются: тесты зовут шаги сверки напрямую.
func newHarness(t *testing.T, mutate func(*monitor.Options)) *harness {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "postbot.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.AddChannel(testUser, testChannel, "news"); err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	files, err := media.New(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatalf("open media store: %v", err)
	}

	h := &harness{
		store:    s,
		timers:   newFakeTimers(),
		notifier: &fakeNotifier{},
		media:    files,
		now:      time.Now(),
	}
	opts := monitor.Options{
		Store:    s,
		Timers:   h.timers,
		Notifier: h.notifier,
		Media:    files,
		Clock:    func() time.Time { return h.now },
	}
	if mutate != nil {
		mutate(&opts)
	}
	m, err := monitor.New(opts)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	h.mon = m
	return h
}

func (h *harness) addPost(t *testing.T, p *post.Post) int64 {
	t.Helper()
	id, err := h.store.AddPost(p)
	if err != nil {
		t.Fatalf("add post: %v", err)
	}
	return id
}

func (h *harness) schedule(t *testing.T, id int64, at time.Time) {
	t.Helper()
	if err := h.store.UpdatePostSchedule(id, at); err != nil {
		t.Fatalf("schedule post: %v", err)
	}
}

// saveFile кладёт файл в медиахранилище и возвращает ссылку.
func (h *harness) saveFile(t *testing.T, name string) string {
	t.Helper()
	ref, err := h.media.Save(bytes.NewReader([]byte("payload")), name, post.KindPhoto)
	if err != nil {
		t.Fatalf("save media: %v", err)
	}
	return ref
}

func photoPost(ref string) *post.Post {
	return &post.Post{
		UserID:    testUser,
		ChannelID: testChannel,
		FilePath:  ref,
		Kind:      post.KindPhoto,
		Mode:      post.ModeIndividual,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestReconcileRestoresTimers(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	future := h.addPost(t, photoPost("data/a.jpg"))
	h.schedule(t, future, h.now.Add(2*time.Hour))
	overdue := h.addPost(t, photoPost("data/b.jpg"))
	h.schedule(t, overdue, h.now.Add(-30*time.Minute))
	queued := h.addPost(t, photoPost("data/c.jpg"))

	if err := h.mon.ReconcileOnce(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if at, ok := h.timers.at(future); !ok || !at.Equal(h.now.Add(2*time.Hour)) {
		t.Errorf("future post timer = %v, %v; want its scheduled time", at, ok)
	}
	if at, ok := h.timers.at(overdue); !ok || !at.Equal(h.now.Add(10*time.Second)) {
		t.Errorf("overdue post timer = %v, %v; want now+10s", at, ok)
	}
	if _, ok := h.timers.at(queued); ok {
		t.Errorf("queued post got a timer, want none")
	}

	texts := h.notifier.all()
	if len(texts) != 1 {
		t.Fatalf("notifications = %d, want 1: %q", len(texts), texts)
	}
	if !strings.Contains(texts[0], "⚠️") || !strings.Contains(texts[0], "задержался") {
		t.Errorf("delay notice = %q", texts[0])
	}
}

func TestReconcileIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	id := h.addPost(t, photoPost("data/a.jpg"))
	h.schedule(t, id, h.now.Add(-time.Minute))

	for i := 0; i < 3; i++ {
		if err := h.mon.ReconcileOnce(context.Background()); err != nil {
			t.Fatalf("reconcile #%d: %v", i+1, err)
		}
	}

	if got := h.timers.registered(); got != 1 {
		t.Errorf("registrations = %d, want 1", got)
	}
	if got := len(h.notifier.all()); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}
}

func TestReconcileDelayNoticeNotRepeated(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	id := h.addPost(t, photoPost("data/a.jpg"))
	h.schedule(t, id, h.now.Add(-time.Minute))

	if err := h.mon.ReconcileOnce(context.Background()); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	// Таймер снова потерян: пост перерегистрируется, но оператора второй раз
	// не беспокоим.
	h.timers.drop(id)
	if err := h.mon.ReconcileOnce(context.Background()); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}

	if got := h.timers.registered(); got != 2 {
		t.Errorf("registrations = %d, want 2", got)
	}
	if got := len(h.notifier.all()); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}
}

func TestRemindOnEmptyingQueue(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if err := h.store.SetReminderSettings(post.ReminderSettings{
		UserID: testUser, Enabled: true, Threshold: 3,
	}); err != nil {
		t.Fatalf("set reminder settings: %v", err)
	}
	h.addPost(t, photoPost("data/a.jpg"))
	h.addPost(t, photoPost("data/b.jpg"))

	if err := h.mon.RemindOnce(context.Background()); err != nil {
		t.Fatalf("remind: %v", err)
	}
	texts := h.notifier.all()
	if len(texts) != 1 {
		t.Fatalf("notifications = %d, want 1: %q", len(texts), texts)
	}
	if !strings.Contains(texts[0], "🔔") || !strings.Contains(texts[0], "осталось 2") {
		t.Errorf("reminder = %q", texts[0])
	}

	// Повтор в пределах суток подавляется отметкой LastSent.
	if err := h.mon.RemindOnce(context.Background()); err != nil {
		t.Fatalf("second remind: %v", err)
	}
	if got := len(h.notifier.all()); got != 1 {
		t.Fatalf("notifications after cooldown hit = %d, want 1", got)
	}

	// Спустя сутки напоминание приходит снова.
	h.now = h.now.Add(25 * time.Hour)
	if err := h.mon.RemindOnce(context.Background()); err != nil {
		t.Fatalf("third remind: %v", err)
	}
	if got := len(h.notifier.all()); got != 2 {
		t.Errorf("notifications after a day = %d, want 2", got)
	}
}

func TestRemindSkipsFullQueue(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if err := h.store.SetReminderSettings(post.ReminderSettings{
		UserID: testUser, Enabled: true, Threshold: 1,
	}); err != nil {
		t.Fatalf("set reminder settings: %v", err)
	}
	h.addPost(t, photoPost("data/a.jpg"))
	h.addPost(t, photoPost("data/b.jpg"))

	if err := h.mon.RemindOnce(context.Background()); err != nil {
		t.Fatalf("remind: %v", err)
	}
	if got := len(h.notifier.all()); got != 0 {
		t.Errorf("notifications = %d, want 0: очередь выше порога", got)
	}
}

func TestRemindEmptyQueueText(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if err := h.store.SetReminderSettings(post.ReminderSettings{
		UserID: testUser, Enabled: true, Threshold: 0,
	}); err != nil {
		t.Fatalf("set reminder settings: %v", err)
	}

	if err := h.mon.RemindOnce(context.Background()); err != nil {
		t.Fatalf("remind: %v", err)
	}
	texts := h.notifier.all()
	if len(texts) != 1 || !strings.Contains(texts[0], "Очередь пуста") {
		t.Errorf("reminder = %q, want empty-queue text", texts)
	}
}

func TestCleanupRemovesExpiredMedia(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	// Часы монитора уведены на 8 суток вперёд: все сегодняшние записи и файлы
	// оказываются старше окна хранения в 7 суток.
	h.now = time.Now().Add(8 * 24 * time.Hour)

	postedRef := h.saveFile(t, "posted.jpg")
	postedID := h.addPost(t, photoPost(postedRef))
	if err := h.store.MarkPosted(postedID); err != nil {
		t.Fatalf("mark posted: %v", err)
	}

	albumA := h.saveFile(t, "album-a.jpg")
	albumB := h.saveFile(t, "album-b.jpg")
	failedID := h.addPost(t, &post.Post{
		UserID:    testUser,
		ChannelID: testChannel,
		Kind:      post.KindAlbum,
		Mode:      post.ModeIndividual,
		Album: []post.AlbumItem{
			{FilePath: albumA, Kind: post.KindPhoto},
			{FilePath: albumB, Kind: post.KindPhoto},
		},
	})
	if err := h.store.MarkFailed(failedID, "chat not found"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	// Живой пост: файл стар по mtime, но на него ещё есть ссылка.
	pendingRef := h.saveFile(t, "pending.jpg")
	h.addPost(t, photoPost(pendingRef))

	// Осиротевший файл без поста и файл со свежим mtime.
	orphanRef := h.saveFile(t, "orphan.jpg")
	freshRef := h.saveFile(t, "fresh.jpg")
	if err := os.Chtimes(freshRef, h.now.Add(time.Hour), h.now.Add(time.Hour)); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	// Пустеющий подкаталог с ничейным файлом.
	subdir := filepath.Join(h.media.Root(), "tmp")
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	strayPath := filepath.Join(subdir, "stray.bin")
	if err := os.WriteFile(strayPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray: %v", err)
	}

	if err := h.mon.CleanupOnce(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	for ref, want := range map[string]bool{
		postedRef:  false,
		albumA:     false,
		albumB:     false,
		orphanRef:  false,
		pendingRef: true,
		freshRef:   true,
	} {
		if got := h.media.Exists(ref); got != want {
			t.Errorf("exists(%s) = %v, want %v", filepath.Base(ref), got, want)
		}
	}
	if _, err := os.Stat(subdir); !os.IsNotExist(err) {
		t.Errorf("stale subdir still present: %v", err)
	}

	// Записи постов переживают уборку, удаляются только файлы.
	for _, id := range []int64{postedID, failedID} {
		if _, err := h.store.GetPost(id); err != nil {
			t.Errorf("post %d gone after cleanup: %v", id, err)
		}
	}
}

func TestCleanupKeepsRecentTerminalMedia(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	ref := h.saveFile(t, "recent.jpg")
	id := h.addPost(t, photoPost(ref))
	if err := h.store.MarkPosted(id); err != nil {
		t.Fatalf("mark posted: %v", err)
	}

	// Часы не уводим: пост опубликован только что и в окно хранения ещё входит.
	if err := h.mon.CleanupOnce(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if !h.media.Exists(ref) {
		t.Errorf("fresh terminal post lost its media")
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(o *monitor.Options) {
		o.ReconcileEvery = 20 * time.Millisecond
		o.RemindEvery = time.Hour
	})

	id := h.addPost(t, photoPost("data/a.jpg"))
	h.schedule(t, id, h.now.Add(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.mon.Start(ctx)
	h.mon.Start(ctx) // повторный запуск игнорируется

	waitFor(t, "reconcile tick", func() bool { return h.timers.Len() == 1 })

	h.mon.Stop()
	h.mon.Stop() // и повторная остановка безопасна
}
