package coordinator

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"heicConverter/converter/codec"
	"heicConverter/converter/handle"
	"heicConverter/converter/pool"
	"heicConverter/converter/queue"
)

// stubCodec records how many encodes run concurrently and fails for inputs
// carrying the payload "fail". When block is set (before any encode starts),
// every encode waits on it.
type stubCodec struct {
	block chan struct{}

	mu  sync.Mutex
	cur int
	max int
}

func (s *stubCodec) Encode(ctx context.Context, input []byte, opts codec.Options, progress func(int)) (*codec.Result, error) {
	if s.block != nil {
		<-s.block
	}

	s.mu.Lock()
	s.cur++
	if s.cur > s.max {
		s.max = s.cur
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cur--
		s.mu.Unlock()
	}()

	time.Sleep(5 * time.Millisecond)

	if string(input) == "fail" {
		return nil, errors.New("codec rejected input")
	}

	if progress != nil {
		progress(30)
		progress(70)
	}
	return &codec.Result{
		Data:    append([]byte("JPEG:"), input...),
		Preview: []byte("THUMB"),
		Width:   100,
		Height:  80,
	}, nil
}

func (s *stubCodec) maxConcurrency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max
}

type captureSink struct {
	mu      sync.Mutex
	handles []*handle.Handle
	datas   [][]byte
}

func (s *captureSink) Deliver(ctx context.Context, h *handle.Handle) error {
	data, err := h.Bytes()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.datas = append(s.datas, data)
	s.mu.Unlock()
	return nil
}

type fixture struct {
	store   *queue.Store
	pool    *pool.Pool
	handles *handle.Registry
	coord   *Coordinator
	codec   *stubCodec
}

func newFixture(t *testing.T, maxContexts int, opts ...Option) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	sc := &stubCodec{}
	p := pool.New(func() (codec.Codec, error) { return sc, nil }, logger)
	t.Cleanup(p.Terminate)

	store := queue.NewStore(logger)
	reg := handle.NewRegistry()
	opts = append([]Option{WithPoolConfig(pool.Config{MaxContexts: maxContexts})}, opts...)
	return &fixture{
		store:   store,
		pool:    p,
		handles: reg,
		coord:   New(store, p, reg, logger, opts...),
		codec:   sc,
	}
}

func heicFile(name, payload string) queue.File {
	return queue.File{Name: name, MediaType: "image/heic", Data: []byte(payload)}
}

func TestCoordinator_SingleFileScenario(t *testing.T) {
	f := newFixture(t, 2)

	var mu sync.Mutex
	var kinds []queue.EventKind
	var progress []int
	f.store.AddListener(func(ev queue.Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, ev.Kind)
		if ev.Kind == queue.EventUpdated && ev.Entry.Status == queue.StatusProcessing {
			progress = append(progress, ev.Entry.Progress)
		}
	})

	entries, err := f.coord.Add(context.Background(), []queue.File{heicFile("photo.heic", strings.Repeat("x", 500))}, codec.Options{Quality: 80})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 accepted entry, got %d", len(entries))
	}

	if err := f.coord.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	e, ok := f.store.Get(entries[0].ID)
	if !ok {
		t.Fatal("Entry vanished")
	}
	if e.Status != queue.StatusComplete {
		t.Fatalf("Expected complete, got %s (err=%s)", e.Status, e.Err)
	}
	if e.OutputSize <= 0 {
		t.Errorf("Expected positive output size, got %d", e.OutputSize)
	}
	if e.Progress != 100 {
		t.Errorf("Expected progress 100, got %d", e.Progress)
	}
	if e.Result == nil || e.Preview == nil {
		t.Fatal("Expected result and preview handles")
	}
	if e.Result.Name != "photo.jpg" {
		t.Errorf("Expected output name photo.jpg, got %s", e.Result.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) < 3 || kinds[0] != queue.EventAdded {
		t.Fatalf("Expected added followed by updates, got %v", kinds)
	}
	for _, k := range kinds[1:] {
		if k != queue.EventUpdated {
			t.Errorf("Expected only updated events after added, got %v", kinds)
		}
	}
	if len(progress) == 0 {
		t.Error("Expected at least one progress update while processing")
	}
}

func TestCoordinator_NothingAccepted(t *testing.T) {
	f := newFixture(t, 2)

	entries, err := f.coord.Add(context.Background(), []queue.File{
		{Name: "doc.pdf", MediaType: "application/pdf", Data: []byte("%PDF")},
	}, codec.Options{})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no accepted entries, got %d", len(entries))
	}
	if f.store.Len() != 0 {
		t.Errorf("Expected empty store, got %d entries", f.store.Len())
	}
	if f.pool.Initialized() {
		t.Error("Expected pool to stay uninitialized when nothing was accepted")
	}
}

func TestCoordinator_BoundedParallelFanOut(t *testing.T) {
	f := newFixture(t, 2)

	files := []queue.File{
		heicFile("a.heic", "a"),
		heicFile("b.heic", "b"),
		heicFile("c.heic", "fail"),
		heicFile("d.heic", "d"),
		heicFile("e.heic", "e"),
	}

	if _, err := f.coord.Add(context.Background(), files, codec.Options{}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := f.coord.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if got := f.codec.maxConcurrency(); got > 2 {
		t.Errorf("Expected at most 2 concurrent encodes, observed %d", got)
	}

	for _, e := range f.store.All() {
		if !e.Status.IsTerminal() {
			t.Errorf("Entry %s did not reach a terminal status: %s", e.Name, e.Status)
		}
	}

	st := f.store.Stats()
	if st.Completed != 4 || st.Errors != 1 {
		t.Errorf("Expected 4 completed and 1 error, got %+v", st)
	}
}

func TestCoordinator_WaitHonorsContext(t *testing.T) {
	f := newFixture(t, 1)
	f.codec.block = make(chan struct{})

	if _, err := f.coord.Add(context.Background(), []queue.File{heicFile("a.heic", "a")}, codec.Options{}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := f.coord.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline error while work is in flight, got %v", err)
	}

	close(f.codec.block)
	if err := f.coord.Wait(context.Background()); err != nil {
		t.Fatalf("Wait after unblocking failed: %v", err)
	}

	// Once everything settled, Wait returns immediately even with an
	// already-cancelled context.
	cancelled, stop := context.WithCancel(context.Background())
	stop()
	if err := f.coord.Wait(cancelled); err != nil {
		t.Errorf("Expected idle Wait to return nil, got %v", err)
	}
}

func TestCoordinator_InitFailureLeavesEntriesPending(t *testing.T) {
	logger := zaptest.NewLogger(t)
	p := pool.New(func() (codec.Codec, error) {
		return nil, errors.New("codec unavailable")
	}, logger)
	t.Cleanup(p.Terminate)

	store := queue.NewStore(logger)
	coord := New(store, p, handle.NewRegistry(), logger,
		WithPoolConfig(pool.Config{MaxContexts: 1}))

	entries, err := coord.Add(context.Background(), []queue.File{heicFile("a.heic", "a")}, codec.Options{})
	if err == nil {
		t.Fatal("Expected init error")
	}
	if len(entries) != 1 {
		t.Fatalf("Expected entry to be created despite init failure, got %d", len(entries))
	}

	e, _ := store.Get(entries[0].ID)
	if e.Status != queue.StatusPending {
		t.Errorf("Expected entry left pending for lazy retry, got %s", e.Status)
	}
}

func TestCoordinator_DeliverSingleDirect(t *testing.T) {
	f := newFixture(t, 1, WithArchiver(ZipArchiver{}))

	if _, err := f.coord.Add(context.Background(), []queue.File{heicFile("a.heic", "a")}, codec.Options{}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := f.coord.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	sink := &captureSink{}
	if err := f.coord.Deliver(context.Background(), sink); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	if len(sink.handles) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(sink.handles))
	}
	if sink.handles[0].Name != "a.jpg" {
		t.Errorf("Expected direct delivery of a.jpg, got %s", sink.handles[0].Name)
	}
}

func TestCoordinator_DeliverMultipleAsArchive(t *testing.T) {
	f := newFixture(t, 2, WithArchiver(ZipArchiver{}))

	files := []queue.File{heicFile("a.heic", "a"), heicFile("b.heic", "b")}
	if _, err := f.coord.Add(context.Background(), files, codec.Options{}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := f.coord.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	sink := &captureSink{}
	if err := f.coord.Deliver(context.Background(), sink); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	if len(sink.handles) != 1 {
		t.Fatalf("Expected a single archive delivery, got %d", len(sink.handles))
	}
	if sink.handles[0].Name != "converted.zip" {
		t.Errorf("Expected converted.zip, got %s", sink.handles[0].Name)
	}

	zr, err := zip.NewReader(bytes.NewReader(sink.datas[0]), int64(len(sink.datas[0])))
	if err != nil {
		t.Fatalf("Delivered archive is not a readable zip: %v", err)
	}
	names := map[string]bool{}
	for _, zf := range zr.File {
		names[zf.Name] = true
	}
	if !names["a.jpg"] || !names["b.jpg"] {
		t.Errorf("Expected a.jpg and b.jpg in archive, got %v", names)
	}

	// The transient archive handle is released after delivery.
	if _, err := sink.handles[0].Bytes(); !errors.Is(err, handle.ErrReleased) {
		t.Error("Expected archive handle to be released after delivery")
	}
}

func TestCoordinator_DeliverDegradesWithoutArchiver(t *testing.T) {
	f := newFixture(t, 2, WithStagger(time.Millisecond))

	files := []queue.File{heicFile("a.heic", "a"), heicFile("b.heic", "b"), heicFile("c.heic", "c")}
	if _, err := f.coord.Add(context.Background(), files, codec.Options{}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := f.coord.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	sink := &captureSink{}
	if err := f.coord.Deliver(context.Background(), sink); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	if len(sink.handles) != 3 {
		t.Fatalf("Expected 3 individual deliveries, got %d", len(sink.handles))
	}
}

func TestCoordinator_DeliverNothing(t *testing.T) {
	f := newFixture(t, 1)

	err := f.coord.Deliver(context.Background(), &captureSink{})
	if !errors.Is(err, ErrNothingToDeliver) {
		t.Errorf("Expected ErrNothingToDeliver, got %v", err)
	}
}

func TestCoordinator_ClearReleasesEverything(t *testing.T) {
	f := newFixture(t, 2)

	files := []queue.File{heicFile("a.heic", "a"), heicFile("b.heic", "b")}
	if _, err := f.coord.Add(context.Background(), files, codec.Options{}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := f.coord.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if f.handles.Len() == 0 {
		t.Fatal("Expected live handles before clear")
	}

	f.coord.Clear()

	if f.store.Len() != 0 {
		t.Errorf("Expected empty store after clear, got %d", f.store.Len())
	}
	if f.handles.Len() != 0 {
		t.Errorf("Expected all handles released after clear, %d live", f.handles.Len())
	}
}

func TestDedupeName(t *testing.T) {
	seen := map[string]int{}
	got := []string{
		dedupeName(seen, "img.jpg"),
		dedupeName(seen, "img.jpg"),
		dedupeName(seen, "img.jpg"),
		dedupeName(seen, "other.jpg"),
	}
	want := []string{"img.jpg", "img (1).jpg", "img (2).jpg", "other.jpg"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
