package commands_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"telegram-postbot/internal/domain/commands"
	"telegram-postbot/internal/domain/post"
	"telegram-postbot/internal/domain/schedule"
	"telegram-postbot/internal/store"

	"github.com/go-faster/errors"
)

const (
	testUser    = int64(100)
	testChannel = int64(-1001234567890)
	otherUser   = int64(200)
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

type fakeTimers struct {
	regs    map[int64]time.Time
	cancels []int64
}

func newFakeTimers() *fakeTimers { return &fakeTimers{regs: make(map[int64]time.Time)} }

func (f *fakeTimers) Register(id int64, t time.Time) { f.regs[id] = t }
func (f *fakeTimers) Cancel(id int64) {
	delete(f.regs, id)
	f.cancels = append(f.cancels, id)
}
func (f *fakeTimers) Len() int { return len(f.regs) }

type fakeMedia struct {
	files   map[string]bool
	deleted []string
}

func newFakeMedia() *fakeMedia { return &fakeMedia{files: make(map[string]bool)} }

func (f *fakeMedia) Exists(ref string) bool { return f.files[ref] }
func (f *fakeMedia) Delete(ref string) error {
	delete(f.files, ref)
	f.deleted = append(f.deleted, ref)
	return nil
}

type harness struct {
	store  *store.Store
	timers *fakeTimers
	media  *fakeMedia
	exec   *commands.CommandExecutor
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "postbot.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.AddChannel(testUser, testChannel, "news"); err != nil {
		t.Fatalf("seed channel: %v", err)
	}

	kiev := mustLoc(t, "Europe/Kiev")
	h := &harness{
		store:  s,
		timers: newFakeTimers(),
		media:  newFakeMedia(),
		now:    time.Date(2025, 7, 24, 9, 0, 0, 0, kiev),
	}
	h.exec = commands.NewExecutor(s, h.media, h.timers, func() time.Time { return h.now })
	return h
}

// addQueued создаёт n постов в очереди и возвращает их id в порядке создания.
func (h *harness) addQueued(t *testing.T, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id, err := h.store.AddPost(&post.Post{
			UserID:    testUser,
			ChannelID: testChannel,
			FilePath:  "data/uploads/cat.jpg",
			Kind:      post.KindPhoto,
			Mode:      post.ModeBulk,
		})
		if err != nil {
			t.Fatalf("add post: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func (h *harness) scheduleAt(t *testing.T, id int64, at time.Time) {
	t.Helper()
	if err := h.store.UpdatePostSchedule(id, at); err != nil {
		t.Fatalf("schedule post %d: %v", id, err)
	}
}

func (h *harness) at(t *testing.T, day, hour, minute int) time.Time {
	t.Helper()
	return time.Date(2025, 7, day, hour, minute, 0, 0, h.now.Location())
}

func (h *harness) scheduledTimes(t *testing.T, ids []int64) []time.Time {
	t.Helper()
	out := make([]time.Time, 0, len(ids))
	for _, id := range ids {
		p, err := h.store.GetPost(id)
		if err != nil {
			t.Fatalf("get post %d: %v", id, err)
		}
		if p.ScheduledAt == nil {
			t.Fatalf("post %d has no schedule", id)
		}
		out = append(out, *p.ScheduledAt)
	}
	return out
}

func checkTimes(t *testing.T, got, want []time.Time) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("times count = %d, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("times[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestScheduleAll(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ids := h.addQueued(t, 5)

	res, err := h.exec.ScheduleAll(context.Background(), testUser, 0)
	if err != nil {
		t.Fatalf("schedule all: %v", err)
	}
	want := []time.Time{
		h.at(t, 25, 10, 0), h.at(t, 25, 12, 0), h.at(t, 25, 14, 0),
		h.at(t, 25, 16, 0), h.at(t, 25, 18, 0),
	}
	checkTimes(t, h.scheduledTimes(t, ids), want)
	if res.Scheduled != 5 || !res.FirstAt.Equal(want[0]) || !res.LastAt.Equal(want[4]) {
		t.Errorf("result = %+v", res)
	}
	for i, id := range ids {
		if at, ok := h.timers.regs[id]; !ok || !at.Equal(want[i]) {
			t.Errorf("timer for post %d = %v, %v; want %s", id, at, ok, want[i])
		}
	}
}

func TestScheduleAllEmptyQueue(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res, err := h.exec.ScheduleAll(context.Background(), testUser, 0)
	if err != nil {
		t.Fatalf("schedule all: %v", err)
	}
	if res.Scheduled != 0 || h.timers.Len() != 0 {
		t.Errorf("scheduled %d posts on empty queue", res.Scheduled)
	}
}

func TestScheduleNextSlot(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	anchor := h.addQueued(t, 1)
	h.scheduleAt(t, anchor[0], h.at(t, 25, 16, 0))
	ids := h.addQueued(t, 2)

	res, err := h.exec.ScheduleNextSlot(context.Background(), testUser, 0)
	if err != nil {
		t.Fatalf("schedule next slot: %v", err)
	}
	if res.Scheduled != 2 {
		t.Fatalf("scheduled = %d, want 2", res.Scheduled)
	}
	checkTimes(t, h.scheduledTimes(t, ids), []time.Time{h.at(t, 25, 18, 0), h.at(t, 26, 10, 0)})
}

func TestScheduleCustomDate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ids := h.addQueued(t, 2)

	res, err := h.exec.ScheduleCustomDate(context.Background(), testUser, 0, h.at(t, 26, 14, 30))
	if err != nil {
		t.Fatalf("schedule custom date: %v", err)
	}
	if res.Scheduled != 2 {
		t.Fatalf("scheduled = %d, want 2", res.Scheduled)
	}
	checkTimes(t, h.scheduledTimes(t, ids), []time.Time{h.at(t, 26, 14, 30), h.at(t, 26, 16, 30)})
}

func TestScheduleCustomDateRejects(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.addQueued(t, 1)

	if _, err := h.exec.ScheduleCustomDate(context.Background(), testUser, 0, h.at(t, 26, 21, 0)); err == nil ||
		!strings.Contains(err.Error(), "вне окна") {
		t.Errorf("out-of-window err = %v", err)
	}
	if _, err := h.exec.ScheduleCustomDate(context.Background(), testUser, 0, h.at(t, 20, 12, 0)); err == nil ||
		!strings.Contains(err.Error(), "уже прошло") {
		t.Errorf("past err = %v", err)
	}
}

func TestScheduleCustomInterval(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ids := h.addQueued(t, 4)

	res, err := h.exec.ScheduleCustomInterval(context.Background(), testUser, 0, 5)
	if err != nil {
		t.Fatalf("schedule custom interval: %v", err)
	}
	if res.Scheduled != 4 {
		t.Fatalf("scheduled = %d, want 4", res.Scheduled)
	}
	// Конец окна включается: 10, 15, 20, затем следующий день.
	checkTimes(t, h.scheduledTimes(t, ids), []time.Time{
		h.at(t, 25, 10, 0), h.at(t, 25, 15, 0), h.at(t, 25, 20, 0), h.at(t, 26, 10, 0),
	})

	if _, err := h.exec.ScheduleCustomInterval(context.Background(), testUser, 0, 11); err == nil ||
		!strings.Contains(err.Error(), "не помещается") {
		t.Errorf("wide interval err = %v", err)
	}
}

func TestScheduleCustomWindow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ids := h.addQueued(t, 3)

	res, err := h.exec.ScheduleCustomWindow(context.Background(), testUser, 0,
		schedule.Window{StartHour: 8, EndHour: 12, IntervalHours: 2})
	if err != nil {
		t.Fatalf("schedule custom window: %v", err)
	}
	if res.Scheduled != 3 {
		t.Fatalf("scheduled = %d, want 3", res.Scheduled)
	}
	checkTimes(t, h.scheduledTimes(t, ids), []time.Time{
		h.at(t, 25, 8, 0), h.at(t, 25, 10, 0), h.at(t, 26, 8, 0),
	})

	if _, err := h.exec.ScheduleCustomWindow(context.Background(), testUser, 0,
		schedule.Window{StartHour: 12, EndHour: 8, IntervalHours: 2}); err == nil ||
		!strings.Contains(err.Error(), "задано неверно") {
		t.Errorf("bad window err = %v", err)
	}
}

func TestSchedulePostAt(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ids := h.addQueued(t, 1)
	at := h.at(t, 26, 11, 0)

	if err := h.exec.SchedulePostAt(context.Background(), testUser, ids[0], at); err != nil {
		t.Fatalf("schedule post: %v", err)
	}
	checkTimes(t, h.scheduledTimes(t, ids), []time.Time{at})
	if got, ok := h.timers.regs[ids[0]]; !ok || !got.Equal(at) {
		t.Errorf("timer = %v, %v; want %s", got, ok, at)
	}

	if err := h.exec.SchedulePostAt(context.Background(), otherUser, ids[0], at); !errors.Is(err, store.ErrNotOwner) {
		t.Errorf("foreign user err = %v, want ErrNotOwner", err)
	}
	if err := h.exec.SchedulePostAt(context.Background(), testUser, ids[0], h.at(t, 20, 11, 0)); err == nil ||
		!strings.Contains(err.Error(), "уже прошло") {
		t.Errorf("past err = %v", err)
	}
}

func TestPostNow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ids := h.addQueued(t, 1)

	if err := h.exec.PostNow(context.Background(), testUser, ids[0]); err != nil {
		t.Fatalf("post now: %v", err)
	}
	want := h.now.Add(time.Second)
	checkTimes(t, h.scheduledTimes(t, ids), []time.Time{want})
	if got := h.timers.regs[ids[0]]; !got.Equal(want) {
		t.Errorf("timer = %s, want %s", got, want)
	}

	if err := h.store.MarkPosted(ids[0]); err != nil {
		t.Fatal(err)
	}
	if err := h.exec.PostNow(context.Background(), testUser, ids[0]); !errors.Is(err, store.ErrTerminal) {
		t.Errorf("terminal err = %v, want ErrTerminal", err)
	}
}

func TestRedistributePreservesSet(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ids := h.addQueued(t, 3)
	for i, id := range ids {
		h.scheduleAt(t, id, h.at(t, 28, 10+i, 15))
	}

	res, err := h.exec.Redistribute(context.Background(), testUser,
		commands.RedistributeScope{IntervalHours: 3})
	if err != nil {
		t.Fatalf("redistribute: %v", err)
	}
	if res.Moved != 3 {
		t.Fatalf("moved = %d, want 3", res.Moved)
	}

	all, err := h.store.ListPending(store.Filter{UserID: testUser, ScheduledOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("scheduled set size = %d, want 3 (посты не создаются и не теряются)", len(all))
	}
	want := []time.Time{h.at(t, 25, 10, 0), h.at(t, 25, 13, 0), h.at(t, 25, 16, 0)}
	checkTimes(t, h.scheduledTimes(t, ids), want)
	for i, id := range ids {
		if got := h.timers.regs[id]; !got.Equal(want[i]) {
			t.Errorf("timer for post %d = %s, want %s", id, got, want[i])
		}
	}
}

func TestRedistributeChannelScope(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	second := testChannel - 1
	if err := h.store.AddChannel(testUser, second, "backup"); err != nil {
		t.Fatal(err)
	}
	ids := h.addQueued(t, 1)
	h.scheduleAt(t, ids[0], h.at(t, 28, 11, 0))
	otherID, err := h.store.AddPost(&post.Post{
		UserID: testUser, ChannelID: second,
		FilePath: "data/uploads/dog.jpg", Kind: post.KindPhoto, Mode: post.ModeBulk,
	})
	if err != nil {
		t.Fatal(err)
	}
	keep := h.at(t, 28, 15, 0)
	h.scheduleAt(t, otherID, keep)

	res, err := h.exec.Redistribute(context.Background(), testUser,
		commands.RedistributeScope{ChannelID: testChannel})
	if err != nil {
		t.Fatalf("redistribute: %v", err)
	}
	if res.Moved != 1 {
		t.Fatalf("moved = %d, want 1", res.Moved)
	}
	p, err := h.store.GetPost(otherID)
	if err != nil {
		t.Fatal(err)
	}
	if !p.ScheduledAt.Equal(keep) {
		t.Errorf("foreign channel post moved to %s", p.ScheduledAt)
	}
}

func TestRedistributeStartDate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ids := h.addQueued(t, 2)
	for _, id := range ids {
		h.scheduleAt(t, id, h.at(t, 28, 12, 0))
	}

	start := h.at(t, 30, 0, 0)
	res, err := h.exec.Redistribute(context.Background(), testUser,
		commands.RedistributeScope{Start: &start})
	if err != nil {
		t.Fatalf("redistribute: %v", err)
	}
	if res.Moved != 2 {
		t.Fatalf("moved = %d, want 2", res.Moved)
	}
	checkTimes(t, h.scheduledTimes(t, ids), []time.Time{h.at(t, 30, 10, 0), h.at(t, 30, 12, 0)})

	// Сегодняшняя дата начинает с ближайшего будущего слота.
	today := h.at(t, 24, 0, 0)
	if _, err := h.exec.Redistribute(context.Background(), testUser,
		commands.RedistributeScope{Start: &today}); err != nil {
		t.Fatalf("redistribute from today: %v", err)
	}
	checkTimes(t, h.scheduledTimes(t, ids), []time.Time{h.at(t, 24, 10, 0), h.at(t, 24, 12, 0)})

	past := h.at(t, 20, 0, 0)
	if _, err := h.exec.Redistribute(context.Background(), testUser,
		commands.RedistributeScope{Start: &past}); err == nil ||
		!strings.Contains(err.Error(), "уже прошла") {
		t.Errorf("past date err = %v", err)
	}
}

func TestRetryFailedAll(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	second := testChannel - 1
	if err := h.store.AddChannel(testUser, second, "backup"); err != nil {
		t.Fatal(err)
	}
	ids := h.addQueued(t, 2)
	otherID, err := h.store.AddPost(&post.Post{
		UserID: testUser, ChannelID: second,
		FilePath: "data/uploads/dog.jpg", Kind: post.KindPhoto, Mode: post.ModeBulk,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range append(ids, otherID) {
		if err := h.store.MarkFailed(id, "network down"); err != nil {
			t.Fatal(err)
		}
	}

	count, err := h.exec.RetryFailedAll(context.Background(), testUser, testChannel)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("retried = %d, want 2", count)
	}
	for _, id := range ids {
		p, err := h.store.GetPost(id)
		if err != nil {
			t.Fatal(err)
		}
		if p.Status != post.StatusPending || p.ScheduledAt != nil || p.RetryCount != 0 || p.FailureReason != "" {
			t.Errorf("post %d after retry = %+v", id, p)
		}
	}
	p, _ := h.store.GetPost(otherID)
	if p.Status != post.StatusFailed {
		t.Errorf("foreign channel post retried, status = %s", p.Status)
	}
}

func TestRescheduleFromTodayWithWindow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ids := h.addQueued(t, 2)
	for _, id := range ids {
		h.scheduleAt(t, id, h.at(t, 28, 12, 0))
	}

	count, err := h.exec.RescheduleFromToday(context.Background(), testUser, 0,
		&schedule.Window{StartHour: 8, EndHour: 22, IntervalHours: 2})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	// Сейчас 09:00: слот 08:00 уже прошёл, первыми идут 10:00 и 12:00.
	want := []time.Time{h.at(t, 24, 10, 0), h.at(t, 24, 12, 0)}
	checkTimes(t, h.scheduledTimes(t, ids), want)
	for i, id := range ids {
		if got := h.timers.regs[id]; !got.Equal(want[i]) {
			t.Errorf("timer for post %d = %s, want %s", id, got, want[i])
		}
	}
}

func TestOverdueReschedule(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.now = h.at(t, 25, 11, 5)
	ids := h.addQueued(t, 2)
	h.scheduleAt(t, ids[0], h.at(t, 25, 10, 0))
	h.scheduleAt(t, ids[1], h.at(t, 25, 10, 30))

	count, err := h.exec.OverdueReschedule(context.Background(), testUser)
	if err != nil {
		t.Fatalf("overdue reschedule: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	// Хвост расписания — 10:30, слот 12:00 был бы раньше него.
	checkTimes(t, h.scheduledTimes(t, ids), []time.Time{h.at(t, 25, 14, 0), h.at(t, 25, 16, 0)})
}

// Бот простоял сутки: всё расписание в прошлом. Перенос должен дать будущие
// слоты, а не вчерашнюю сетку, которую диспетчер сожмёт в ближайшие секунды.
func TestOverdueRescheduleAfterDowntime(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.now = h.at(t, 25, 13, 5)
	ids := h.addQueued(t, 2)
	h.scheduleAt(t, ids[0], h.at(t, 24, 16, 0))
	h.scheduleAt(t, ids[1], h.at(t, 24, 18, 0))

	count, err := h.exec.OverdueReschedule(context.Background(), testUser)
	if err != nil {
		t.Fatalf("overdue reschedule: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	want := []time.Time{h.at(t, 25, 16, 0), h.at(t, 25, 18, 0)}
	checkTimes(t, h.scheduledTimes(t, ids), want)
	for i, id := range ids {
		reg := h.timers.regs[id]
		if !reg.Equal(want[i]) {
			t.Errorf("timer for post %d = %s, want %s", id, reg, want[i])
		}
		if reg.Before(h.now) {
			t.Errorf("timer for post %d set in the past: %s", id, reg)
		}
	}
}

func TestOverduePostNow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.now = h.at(t, 25, 11, 5)
	ids := h.addQueued(t, 2)
	h.scheduleAt(t, ids[0], h.at(t, 25, 10, 0))
	h.scheduleAt(t, ids[1], h.at(t, 25, 9, 0))

	count, err := h.exec.OverduePostNow(context.Background(), testUser)
	if err != nil {
		t.Fatalf("overdue post now: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	soon := h.now.Add(time.Second)
	for _, id := range ids {
		if got := h.timers.regs[id]; !got.Equal(soon) {
			t.Errorf("timer for post %d = %s, want %s", id, got, soon)
		}
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ids := h.addQueued(t, 5)
	h.scheduleAt(t, ids[1], h.at(t, 26, 10, 0))
	h.scheduleAt(t, ids[2], h.at(t, 23, 10, 0)) // просрочен
	if err := h.store.MarkPosted(ids[3]); err != nil {
		t.Fatal(err)
	}
	if err := h.store.MarkFailed(ids[4], "chat not found"); err != nil {
		t.Fatal(err)
	}
	h.timers.Register(ids[1], h.at(t, 26, 10, 0))

	res, err := h.exec.Status(context.Background(), testUser)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if res.Queued != 1 || res.Scheduled != 2 || res.Posted != 1 || res.Failed != 1 || res.Overdue != 1 {
		t.Errorf("counts = %+v", res)
	}
	if res.ActiveTimers != 1 {
		t.Errorf("active timers = %d, want 1", res.ActiveTimers)
	}
	if res.NextFireAt == nil || !res.NextFireAt.Equal(h.at(t, 23, 10, 0)) {
		t.Errorf("next fire = %v, want overdue slot", res.NextFireAt)
	}
}

func TestClearQueuedDeletesMedia(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ids := h.addQueued(t, 2)
	h.media.files["data/uploads/cat.jpg"] = true

	count, err := h.exec.ClearQueued(context.Background(), testUser, 0)
	if err != nil {
		t.Fatalf("clear queued: %v", err)
	}
	if count != 2 {
		t.Fatalf("cleared = %d, want 2", count)
	}
	if len(h.media.deleted) != 2 {
		t.Errorf("deleted refs = %v, want 2 entries", h.media.deleted)
	}
	for _, id := range ids {
		if _, err := h.store.GetPost(id); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("post %d err = %v, want ErrNotFound", id, err)
		}
	}
}

func TestClearScheduledCancelsTimers(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ids := h.addQueued(t, 2)
	for _, id := range ids {
		h.scheduleAt(t, id, h.at(t, 26, 10, 0))
		h.timers.Register(id, h.at(t, 26, 10, 0))
	}

	count, err := h.exec.ClearScheduled(context.Background(), testUser, 0)
	if err != nil {
		t.Fatalf("clear scheduled: %v", err)
	}
	if count != 2 {
		t.Fatalf("cleared = %d, want 2", count)
	}
	if h.timers.Len() != 0 || len(h.timers.cancels) != 2 {
		t.Errorf("timers after clear: len=%d cancels=%v", h.timers.Len(), h.timers.cancels)
	}
}

func TestBackupRestoreSkipsMissingFiles(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	okRef, lostRef := "data/uploads/ok.jpg", "data/uploads/lost.jpg"
	h.media.files[okRef] = true
	for _, ref := range []string{okRef, lostRef} {
		if _, err := h.store.AddPost(&post.Post{
			UserID: testUser, ChannelID: testChannel,
			FilePath: ref, Kind: post.KindPhoto, Mode: post.ModeBulk,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := h.exec.BackupCreate(context.Background(), testUser, "weekly"); err != nil {
		t.Fatalf("backup create: %v", err)
	}
	if _, err := h.exec.ClearQueued(context.Background(), testUser, 0); err != nil {
		t.Fatal(err)
	}

	res, err := h.exec.BackupRestore(context.Background(), testUser, "weekly", store.RestoreAdd, false)
	if err != nil {
		t.Fatalf("backup restore: %v", err)
	}
	if res.Restored != 1 || res.Skipped != 1 {
		t.Errorf("restore result = %+v, want 1 restored / 1 skipped", res)
	}

	backups, err := h.exec.BackupList(context.Background(), testUser)
	if err != nil || len(backups) != 1 || backups[0].Name != "weekly" {
		t.Errorf("backup list = %+v, %v", backups, err)
	}
}
