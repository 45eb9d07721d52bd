package alert

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kubo-market/anomaly-sentinel/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDispatcher(t *testing.T, clock *fakeClock) *Dispatcher {
	t.Helper()
	return NewDispatcher(Options{Dir: t.TempDir(), Clock: clock.Now})
}

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }

func TestSend_Delivers(t *testing.T) {
	d := newTestDispatcher(t, newFakeClock())

	ok, err := d.Send(domain.LevelWarning, "disk", "almost full", map[string]any{"pct": 91})
	if err != nil || !ok {
		t.Fatalf("expected delivery, got ok=%v err=%v", ok, err)
	}

	hist := d.History(HistoryQuery{})
	if len(hist) != 1 {
		t.Fatalf("expected 1 alert in history, got %d", len(hist))
	}
	a := hist[0]
	if a.ID == "" || a.Timestamp.Location() != time.UTC {
		t.Errorf("unexpected alert identity: %+v", a)
	}
	if len(a.ChannelsSent) != 2 || a.ChannelsSent[0] != "log" || a.ChannelsSent[1] != "file" {
		t.Errorf("expected [log file], got %v", a.ChannelsSent)
	}

	m := d.Metrics()
	if m.TotalAlerts != 1 || m.AlertsByLevel[domain.LevelWarning] != 1 {
		t.Errorf("unexpected metrics: %+v", m)
	}
}

func TestSend_InvalidLevel(t *testing.T) {
	d := newTestDispatcher(t, newFakeClock())

	ok, err := d.Send(domain.Level("urgent"), "t", "m", nil)
	if ok || !errors.Is(err, domain.ErrUnknownLevel) {
		t.Fatalf("expected ErrUnknownLevel, got ok=%v err=%v", ok, err)
	}
	m := d.Metrics()
	if m.TotalAlerts != 0 || m.SuppressedAlerts != 0 || m.RateLimitedAlerts != 0 {
		t.Errorf("invalid level should not touch counters: %+v", m)
	}
	if len(d.History(HistoryQuery{})) != 0 {
		t.Error("invalid level should not add history")
	}
}

func TestSend_DetailsDetachedFromCaller(t *testing.T) {
	d := newTestDispatcher(t, newFakeClock())
	details := map[string]any{"k": "original"}
	if _, err := d.Send(domain.LevelInfo, "t", "m", details); err != nil {
		t.Fatal(err)
	}
	details["k"] = "mutated"
	details["extra"] = 1

	got := d.History(HistoryQuery{})[0].Details
	if got["k"] != "original" || len(got) != 1 {
		t.Errorf("stored details changed with caller map: %v", got)
	}
}

func TestSend_UniqueIDs(t *testing.T) {
	d := NewDispatcher(Options{Dir: t.TempDir(), Clock: newFakeClock().Now, Rules: &Rules{}})
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		if _, err := d.Send(domain.LevelInfo, "same", "m", nil); err != nil {
			t.Fatal(err)
		}
	}
	for _, a := range d.History(HistoryQuery{Limit: 100}) {
		if seen[a.ID] {
			t.Fatalf("duplicate id %s", a.ID)
		}
		seen[a.ID] = true
	}
	if len(seen) != 50 {
		t.Errorf("expected 50 alerts, got %d", len(seen))
	}
}

func TestSend_SuppressesDuplicate(t *testing.T) {
	clock := newFakeClock()
	d := newTestDispatcher(t, clock)

	ok, _ := d.Send(domain.LevelCritical, "Critical anomalies detected in pikachu", "m", nil)
	if !ok {
		t.Fatal("first send should succeed")
	}
	clock.Advance(time.Minute)
	ok, _ = d.Send(domain.LevelCritical, "Critical anomalies detected in pikachu", "m", nil)
	if ok {
		t.Fatal("second send inside window should be suppressed")
	}

	if got := d.Metrics().SuppressedAlerts; got != 1 {
		t.Errorf("expected 1 suppressed, got %d", got)
	}
	if got := len(d.History(HistoryQuery{})); got != 1 {
		t.Errorf("expected history length 1, got %d", got)
	}
}

func TestSend_SameTitleDifferentLevelNotSuppressed(t *testing.T) {
	d := newTestDispatcher(t, newFakeClock())

	d.Send(domain.LevelWarning, "x", "m", nil)
	ok, _ := d.Send(domain.LevelCritical, "x", "m", nil)
	if !ok {
		t.Error("different level should not be suppressed")
	}
}

func TestSend_SuppressionWindowExpires(t *testing.T) {
	clock := newFakeClock()
	d := newTestDispatcher(t, clock)

	d.Send(domain.LevelInfo, "x", "m", nil)
	clock.Advance(5*time.Minute + time.Second)
	ok, _ := d.Send(domain.LevelInfo, "x", "m", nil)
	if !ok {
		t.Error("send after the suppression window should succeed")
	}
}

func TestSend_SuppressionDisabled(t *testing.T) {
	d := newTestDispatcher(t, newFakeClock())
	if !d.ConfigureRule(RuleDuplicateSuppression, RulePatch{Enabled: boolPtr(false)}) {
		t.Fatal("configure failed")
	}
	d.Send(domain.LevelInfo, "x", "m", nil)
	ok, _ := d.Send(domain.LevelInfo, "x", "m", nil)
	if !ok {
		t.Error("duplicate should pass with suppression disabled")
	}
}

func TestSend_RateLimit(t *testing.T) {
	d := newTestDispatcher(t, newFakeClock())
	max := d.Rules().RateLimit.MaxAlerts

	for i := 0; i < max; i++ {
		ok, _ := d.Send(domain.LevelInfo, fmt.Sprintf("alert %d", i), "m", nil)
		if !ok {
			t.Fatalf("send %d should succeed", i+1)
		}
	}
	ok, _ := d.Send(domain.LevelCritical, "one more", "m", nil)
	if ok {
		t.Fatal("send max+1 should be rate limited")
	}
	if got := d.Metrics().RateLimitedAlerts; got != 1 {
		t.Errorf("expected 1 rate limited, got %d", got)
	}
}

func TestSend_RateLimitWindowSlides(t *testing.T) {
	clock := newFakeClock()
	d := newTestDispatcher(t, clock)
	d.ConfigureRule(RuleRateLimit, RulePatch{MaxAlerts: intPtr(1)})

	d.Send(domain.LevelInfo, "a", "m", nil)
	clock.Advance(61 * time.Second)
	if ok, _ := d.Send(domain.LevelInfo, "b", "m", nil); !ok {
		t.Error("send after the rate window should succeed")
	}
}

func TestConfigureRule_RateLimitScenario(t *testing.T) {
	d := newTestDispatcher(t, newFakeClock())
	if !d.ConfigureRule(RuleRateLimit, RulePatch{MaxAlerts: intPtr(2)}) {
		t.Fatal("configure rate_limit failed")
	}

	results := make([]bool, 3)
	for i := range results {
		results[i], _ = d.Send(domain.LevelWarning, fmt.Sprintf("distinct %d", i), "m", nil)
	}
	if !results[0] || !results[1] || results[2] {
		t.Errorf("expected [true true false], got %v", results)
	}
	if got := d.Metrics().RateLimitedAlerts; got != 1 {
		t.Errorf("expected 1 rate limited, got %d", got)
	}
}

func TestSuppressionCheckedBeforeRateLimit(t *testing.T) {
	d := newTestDispatcher(t, newFakeClock())
	d.ConfigureRule(RuleRateLimit, RulePatch{MaxAlerts: intPtr(1)})

	d.Send(domain.LevelInfo, "x", "m", nil)
	d.Send(domain.LevelInfo, "x", "m", nil)

	m := d.Metrics()
	if m.SuppressedAlerts != 1 || m.RateLimitedAlerts != 0 {
		t.Errorf("expected suppression to win, got %+v", m)
	}
}

func TestConfigureRule_Rejections(t *testing.T) {
	d := newTestDispatcher(t, newFakeClock())
	before := d.Rules()

	cases := []struct {
		name  string
		rule  string
		patch RulePatch
	}{
		{"unknown rule", "nope", RulePatch{Enabled: boolPtr(false)}},
		{"max on suppression", RuleDuplicateSuppression, RulePatch{MaxAlerts: intPtr(3)}},
		{"zero window", RuleRateLimit, RulePatch{WindowMinutes: intPtr(0)}},
		{"negative max", RuleRateLimit, RulePatch{MaxAlerts: intPtr(-1)}},
	}
	for _, tc := range cases {
		if d.ConfigureRule(tc.rule, tc.patch) {
			t.Errorf("%s: expected false", tc.name)
		}
	}
	if d.Rules() != before {
		t.Errorf("rules mutated: %+v -> %+v", before, d.Rules())
	}
}

func TestConfigureRule_Window(t *testing.T) {
	d := newTestDispatcher(t, newFakeClock())
	if !d.ConfigureRule(RuleDuplicateSuppression, RulePatch{WindowMinutes: intPtr(10)}) {
		t.Fatal("expected success")
	}
	if got := d.Rules().DuplicateSuppression.WindowMinutes; got != 10 {
		t.Errorf("expected window 10, got %d", got)
	}
}

func TestConfigureChannel(t *testing.T) {
	d := newTestDispatcher(t, newFakeClock())

	if d.ConfigureChannel("pager", true) {
		t.Error("unknown channel should return false")
	}
	if !d.ConfigureChannel("file", false) {
		t.Fatal("file should be configurable")
	}
	d.Send(domain.LevelInfo, "x", "m", nil)
	hist := d.History(HistoryQuery{})
	if len(hist) != 1 || len(hist[0].ChannelsSent) != 1 || hist[0].ChannelsSent[0] != "log" {
		t.Errorf("expected only log channel, got %+v", hist)
	}
}

func TestSend_NoChannelDelivers(t *testing.T) {
	d := newTestDispatcher(t, newFakeClock())
	d.ConfigureChannel("log", false)
	d.ConfigureChannel("file", false)
	d.ConfigureChannel("email", true)

	ok, err := d.Send(domain.LevelInfo, "x", "m", nil)
	if ok || err != nil {
		t.Errorf("expected false without error, got ok=%v err=%v", ok, err)
	}
	if len(d.History(HistoryQuery{})) != 0 || d.Metrics().TotalAlerts != 0 {
		t.Error("undelivered alert should not be recorded")
	}
}

func TestSend_WritesDailyLog(t *testing.T) {
	clock := newFakeClock()
	d := newTestDispatcher(t, clock)

	d.Send(domain.LevelCritical, "a", "m1", map[string]any{"record": "pikachu"})
	d.Send(domain.LevelWarning, "b", "m2", nil)

	f, err := os.Open(d.LogPath("20240501"))
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var lines []domain.Alert
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var a domain.Alert
		if err := json.Unmarshal(sc.Bytes(), &a); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		lines = append(lines, a)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Title != "a" || lines[0].Details["record"] != "pikachu" {
		t.Errorf("unexpected first line: %+v", lines[0])
	}
	if len(lines[0].ChannelsSent) != 2 {
		t.Errorf("expected channels in line, got %v", lines[0].ChannelsSent)
	}
}

func TestSend_FileFailureDropsChannel(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(Options{Dir: filepath.Join(blocker, "alerts"), Clock: newFakeClock().Now})

	ok, _ := d.Send(domain.LevelInfo, "x", "m", nil)
	if !ok {
		t.Fatal("log channel should still deliver")
	}
	sent := d.History(HistoryQuery{})[0].ChannelsSent
	if len(sent) != 1 || sent[0] != "log" {
		t.Errorf("expected only log after file failure, got %v", sent)
	}
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (p *recordingPublisher) Publish(subject string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	return nil
}

func TestSend_NATSChannel(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(Options{
		Dir:       t.TempDir(),
		Clock:     newFakeClock().Now,
		Publisher: pub,
		Channels:  map[Channel]bool{ChannelNATS: true},
	})

	d.Send(domain.LevelCritical, "x", "m", nil)
	if len(pub.subjects) != 1 || pub.subjects[0] != "sentinel.alerts" {
		t.Errorf("expected one publish on default subject, got %v", pub.subjects)
	}
	sent := d.History(HistoryQuery{})[0].ChannelsSent
	if sent[len(sent)-1] != "nats" {
		t.Errorf("expected nats in channels, got %v", sent)
	}

	pub.err = errors.New("no responders")
	d.Send(domain.LevelCritical, "y", "m", nil)
	sent = d.History(HistoryQuery{})[0].ChannelsSent
	for _, c := range sent {
		if c == "nats" {
			t.Errorf("failed publish should not be recorded: %v", sent)
		}
	}
}

func TestSend_NATSWithoutPublisher(t *testing.T) {
	d := NewDispatcher(Options{
		Dir:      t.TempDir(),
		Clock:    newFakeClock().Now,
		Channels: map[Channel]bool{ChannelLog: false, ChannelFile: false, ChannelNATS: true},
	})
	if ok, _ := d.Send(domain.LevelInfo, "x", "m", nil); ok {
		t.Error("nats without a connection should not deliver")
	}
}

func TestHistory_Filters(t *testing.T) {
	clock := newFakeClock()
	d := NewDispatcher(Options{Dir: t.TempDir(), Clock: clock.Now, Rules: &Rules{}})

	d.Send(domain.LevelInfo, "i1", "m", nil)
	clock.Advance(time.Minute)
	mark := clock.Now()
	d.Send(domain.LevelCritical, "c1", "m", nil)
	clock.Advance(time.Minute)
	d.Send(domain.LevelInfo, "i2", "m", nil)

	all := d.History(HistoryQuery{})
	if len(all) != 3 || all[0].Title != "i2" || all[2].Title != "i1" {
		t.Errorf("expected most recent first, got %v", titles(all))
	}
	if got := d.History(HistoryQuery{Level: domain.LevelInfo}); len(got) != 2 {
		t.Errorf("expected 2 info alerts, got %v", titles(got))
	}
	if got := d.History(HistoryQuery{Since: mark}); len(got) != 2 || got[1].Title != "c1" {
		t.Errorf("expected since filter to keep c1 and i2, got %v", titles(got))
	}
	if got := d.History(HistoryQuery{Limit: 1}); len(got) != 1 || got[0].Title != "i2" {
		t.Errorf("expected limit 1, got %v", titles(got))
	}
}

func titles(alerts []domain.Alert) []string {
	out := make([]string, len(alerts))
	for i, a := range alerts {
		out[i] = a.Title
	}
	return out
}

func TestHistory_Capacity(t *testing.T) {
	d := NewDispatcher(Options{Dir: t.TempDir(), Clock: newFakeClock().Now, HistoryCapacity: 3, Rules: &Rules{}})
	d.ConfigureChannel("file", false)
	for i := 0; i < 5; i++ {
		d.Send(domain.LevelInfo, fmt.Sprintf("a%d", i), "m", nil)
	}
	got := d.History(HistoryQuery{Limit: 10})
	if len(got) != 3 {
		t.Fatalf("expected capacity 3, got %d", len(got))
	}
	if got[2].Title != "a2" {
		t.Errorf("expected oldest retained a2, got %s", got[2].Title)
	}
	if d.Metrics().BufferUsage != "3/3" {
		t.Errorf("unexpected buffer usage %s", d.Metrics().BufferUsage)
	}
}

func TestClearHistory(t *testing.T) {
	d := newTestDispatcher(t, newFakeClock())
	d.Send(domain.LevelInfo, "x", "m", nil)
	d.Send(domain.LevelInfo, "x", "m", nil)

	if n := d.ClearHistory(); n != 1 {
		t.Errorf("expected 1 removed, got %d", n)
	}
	m := d.Metrics()
	if m.TotalAlerts != 0 || m.SuppressedAlerts != 0 || m.AlertsByLevel[domain.LevelInfo] != 0 {
		t.Errorf("metrics not reset: %+v", m)
	}
	if ok, _ := d.Send(domain.LevelInfo, "x", "m", nil); !ok {
		t.Error("cleared history should no longer suppress")
	}
}

func TestMetrics_Derived(t *testing.T) {
	clock := newFakeClock()
	d := newTestDispatcher(t, clock)
	d.Send(domain.LevelInfo, "a", "m", nil)

	m := d.Metrics()
	if m.Recent24h != 1 || m.HourlyDist24h["12"] != 1 {
		t.Errorf("unexpected recent stats: %+v", m)
	}
	if !m.AlertChannels[ChannelLog] || m.AlertChannels[ChannelEmail] {
		t.Errorf("unexpected channels: %v", m.AlertChannels)
	}

	clock.Advance(25 * time.Hour)
	if got := d.Metrics().Recent24h; got != 0 {
		t.Errorf("expected 0 recent after 25h, got %d", got)
	}
}

func TestTestAlert(t *testing.T) {
	d := newTestDispatcher(t, newFakeClock())

	res, err := d.TestAlert(domain.LevelWarning)
	if err != nil || !res.Success {
		t.Fatalf("expected success, got %+v err=%v", res, err)
	}
	a := d.History(HistoryQuery{})[0]
	if a.Title != "Alert test - 12:00:00" || a.Details["test"] != true {
		t.Errorf("unexpected test alert: %+v", a)
	}

	if _, err := d.TestAlert(domain.Level("loud")); !errors.Is(err, domain.ErrUnknownLevel) {
		t.Errorf("expected ErrUnknownLevel, got %v", err)
	}
}

func TestExport(t *testing.T) {
	d := newTestDispatcher(t, newFakeClock())
	d.Send(domain.LevelInfo, "a", "m", nil)
	d.Send(domain.LevelCritical, "b", "m", nil)

	path, err := d.Export("")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if filepath.Base(path) != "alert_export_20240501_120000.json" {
		t.Errorf("unexpected default filename %s", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		TotalAlerts int             `json:"total_alerts"`
		Metrics     MetricsSnapshot `json:"metrics"`
		Alerts      []domain.Alert  `json:"alerts"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("invalid export: %v", err)
	}
	if doc.TotalAlerts != 2 || len(doc.Alerts) != 2 || doc.Alerts[0].Title != "a" {
		t.Errorf("unexpected export: %+v", doc)
	}
	if doc.Metrics.TotalAlerts != 2 {
		t.Errorf("expected metrics in export, got %+v", doc.Metrics)
	}
}

func TestExport_RejectsPaths(t *testing.T) {
	d := newTestDispatcher(t, newFakeClock())
	for _, name := range []string{"../escape.json", "sub/dir.json", `win\path.json`, ".."} {
		if _, err := d.Export(name); !errors.Is(err, domain.ErrInvalidFilename) {
			t.Errorf("%q: expected ErrInvalidFilename, got %v", name, err)
		}
	}
}

func TestParseChannel(t *testing.T) {
	if c, err := ParseChannel("webhook"); err != nil || c != ChannelWebhook {
		t.Errorf("unexpected result %v %v", c, err)
	}
	if _, err := ParseChannel("sms"); !errors.Is(err, domain.ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestDispatcher_ConcurrentSend(t *testing.T) {
	d := NewDispatcher(Options{Dir: t.TempDir(), Rules: &Rules{}})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d.Send(domain.LevelInfo, fmt.Sprintf("c%d", i), "m", nil)
		}(i)
	}
	wg.Wait()
	if got := d.Metrics().TotalAlerts; got != 20 {
		t.Errorf("expected 20 alerts, got %d", got)
	}
}
