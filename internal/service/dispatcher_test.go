package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"

	"alertflow/internal/model"
	"alertflow/internal/model/entity"
)

// ---- fakes ----

// opSeq 跨 fake 的调用顺序记录
type opSeq struct {
	mu  sync.Mutex
	ops []string
}

func (s *opSeq) add(op string) {
	s.mu.Lock()
	s.ops = append(s.ops, op)
	s.mu.Unlock()
}

func (s *opSeq) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

type fakeAdapter struct {
	mu          sync.Mutex
	method      model.DeliveryMethod
	validateErr error
	sendErrs    []error // 依次返回，超出后返回nil
	calls       int
	seq         *opSeq
}

func (a *fakeAdapter) Method() model.DeliveryMethod      { return a.method }
func (a *fakeAdapter) ValidateDestination(string) error  { return a.validateErr }
func (a *fakeAdapter) Send(context.Context, *model.TriggerEvent, *model.DeliveryTarget) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	if a.calls < len(a.sendErrs) {
		err = a.sendErrs[a.calls]
	}
	a.calls++
	if a.seq != nil {
		a.seq.add("send")
	}
	return err
}

func (a *fakeAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type fakeThrottle struct {
	mu      sync.Mutex
	allow   bool
	records []string
	seq     *opSeq
}

func (f *fakeThrottle) Allow(context.Context, string, model.ThrottleConfig, time.Time) (bool, error) {
	return f.allow, nil
}

func (f *fakeThrottle) Record(_ context.Context, key string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, key)
	if f.seq != nil {
		f.seq.add("record")
	}
	return nil
}

func (f *fakeThrottle) recordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeRuleStatus struct {
	mu     sync.Mutex
	active []bool // 依次返回，超出后返回最后一个
	calls  int
}

func (f *fakeRuleStatus) IsActive(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.active) == 0 {
		return true, nil
	}
	i := f.calls
	if i >= len(f.active) {
		i = len(f.active) - 1
	}
	f.calls++
	return f.active[i], nil
}

type fakeAudit struct {
	mu         sync.Mutex
	triggers   []*entity.TriggerRecord
	deliveries []*entity.DeliveryRecord
}

func (f *fakeAudit) SaveTrigger(_ context.Context, rec *entity.TriggerRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, rec)
	return nil
}

func (f *fakeAudit) SaveDelivery(_ context.Context, rec *entity.DeliveryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, rec)
	return nil
}

type fakeProducer struct {
	mu   sync.Mutex
	msgs []struct {
		topic, key string
		value      []byte
	}
}

func (f *fakeProducer) Produce(_ context.Context, topic, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, struct {
		topic, key string
		value      []byte
	}{topic, key, value})
	return nil
}

func (f *fakeProducer) Close() {}

// ---- helpers ----

func testNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatal(err)
	}
	return node
}

func newTestDispatcher(t *testing.T, adapter ChannelAdapter, throttle ThrottleTracker, rules RuleStatusStore) (*Dispatcher, *fakeAudit, *fakeProducer, *[]time.Duration) {
	t.Helper()
	audit := &fakeAudit{}
	producer := &fakeProducer{}
	d := NewDispatcher([]ChannelAdapter{adapter}, throttle, rules, audit, producer, testNode(t))

	var delays []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) bool {
		delays = append(delays, dur)
		return true
	}
	return d, audit, producer, &delays
}

func webhookEvent(targets ...model.DeliveryTarget) *model.TriggerEvent {
	return &model.TriggerEvent{
		ID:          "evt-1",
		RuleID:      "r1",
		UserID:      "u1",
		Symbol:      "BTC-USDT",
		Name:        "test",
		Priority:    model.PriorityHigh,
		TriggeredAt: time.Now(),
		Targets:     targets,
		Webhook: &model.WebhookConfig{
			URL: "https://hooks.example.com/x",
			Retry: model.RetryPolicy{
				MaxRetries:    3,
				RetryDelayMs:  1000,
				BackoffFactor: 2,
			},
		},
	}
}

// ---- tests ----

func TestDispatchWebhookRetrySchedule(t *testing.T) {
	adapter := &fakeAdapter{
		method:   model.MethodWebhook,
		sendErrs: []error{errors.New("boom"), errors.New("boom"), errors.New("boom"), errors.New("boom")},
	}
	d, _, _, delays := newTestDispatcher(t, adapter, &fakeThrottle{allow: true}, &fakeRuleStatus{})

	event := webhookEvent(model.DeliveryTarget{
		Method: model.MethodWebhook, Destination: "https://hooks.example.com/x", IsEnabled: true,
	})
	outcomes, err := d.Dispatch(context.Background(), event)
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(outcomes))
	}
	out := outcomes[0]
	if out.Status != model.DeliveryFailed {
		t.Errorf("status = %s, want failed", out.Status)
	}
	// 1 + maxRetries 次尝试
	if out.Attempts != 4 {
		t.Errorf("attempts = %d, want 4", out.Attempts)
	}
	// 重试间隔按退避因子放大
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, (*delays)[i], want[i])
		}
	}
}

func TestDispatchWebhookSucceedsMidway(t *testing.T) {
	adapter := &fakeAdapter{
		method:   model.MethodWebhook,
		sendErrs: []error{errors.New("boom"), nil},
	}
	d, audit, _, _ := newTestDispatcher(t, adapter, &fakeThrottle{allow: true}, &fakeRuleStatus{})

	event := webhookEvent(model.DeliveryTarget{
		Method: model.MethodWebhook, Destination: "https://hooks.example.com/x", IsEnabled: true,
	})
	outcomes, err := d.Dispatch(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcomes[0].Status != model.DeliveryDelivered || outcomes[0].Attempts != 2 {
		t.Errorf("outcome = %+v, want delivered after 2 attempts", outcomes[0])
	}
	if len(audit.deliveries) != 1 || audit.deliveries[0].Status != "delivered" {
		t.Errorf("delivery record = %+v", audit.deliveries)
	}
	if audit.deliveries[0].SentAt == nil {
		t.Error("delivered record must carry sent_at")
	}
}

func TestDispatchWebhookAbortsWhenRuleDeactivated(t *testing.T) {
	adapter := &fakeAdapter{
		method:   model.MethodWebhook,
		sendErrs: []error{errors.New("boom"), errors.New("boom")},
	}
	// 第一次重试前规则已停用
	d, _, _, delays := newTestDispatcher(t, adapter, &fakeThrottle{allow: true}, &fakeRuleStatus{active: []bool{false}})

	event := webhookEvent(model.DeliveryTarget{
		Method: model.MethodWebhook, Destination: "https://hooks.example.com/x", IsEnabled: true,
	})
	outcomes, _ := d.Dispatch(context.Background(), event)
	if outcomes[0].Status != model.DeliveryFailed {
		t.Errorf("status = %s, want failed", outcomes[0].Status)
	}
	if adapter.callCount() != 1 {
		t.Errorf("send calls = %d, want 1 (retries abandoned)", adapter.callCount())
	}
	if len(*delays) != 0 {
		t.Errorf("no sleep expected after deactivation, got %v", *delays)
	}
}

func TestDispatchNonWebhookSingleAttempt(t *testing.T) {
	adapter := &fakeAdapter{method: model.MethodEmail, sendErrs: []error{errors.New("smtp down")}}
	d, audit, _, _ := newTestDispatcher(t, adapter, &fakeThrottle{allow: true}, &fakeRuleStatus{})

	event := webhookEvent(model.DeliveryTarget{
		Method: model.MethodEmail, Destination: "a@b.co", IsEnabled: true,
	})
	outcomes, err := d.Dispatch(context.Background(), event)
	if err == nil {
		t.Fatal("expected error")
	}
	if outcomes[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry outside webhook)", outcomes[0].Attempts)
	}
	if adapter.callCount() != 1 {
		t.Errorf("send calls = %d, want 1", adapter.callCount())
	}
	if audit.deliveries[0].Status != "failed" {
		t.Errorf("record status = %s, want failed", audit.deliveries[0].Status)
	}
}

func TestDispatchThrottledOutcome(t *testing.T) {
	adapter := &fakeAdapter{method: model.MethodEmail}
	throttle := &fakeThrottle{allow: false}
	d, audit, _, _ := newTestDispatcher(t, adapter, throttle, &fakeRuleStatus{})

	event := webhookEvent(model.DeliveryTarget{
		Method: model.MethodEmail, Destination: "a@b.co", IsEnabled: true,
		Throttle: model.ThrottleConfig{Enabled: true, IntervalMinutes: 60},
	})
	outcomes, err := d.Dispatch(context.Background(), event)
	if err != nil {
		t.Fatalf("throttled is not a failure: %v", err)
	}
	if outcomes[0].Status != model.DeliveryThrottled {
		t.Errorf("status = %s, want throttled", outcomes[0].Status)
	}
	if adapter.callCount() != 0 {
		t.Error("throttled target must not reach the adapter")
	}
	if throttle.recordCount() != 0 {
		t.Error("suppressed delivery must not consume quota")
	}
	if audit.deliveries[0].Status != "throttled" {
		t.Errorf("record status = %s, want throttled", audit.deliveries[0].Status)
	}
}

func TestDispatchSkipsDisabledTargets(t *testing.T) {
	adapter := &fakeAdapter{method: model.MethodEmail}
	d, audit, _, _ := newTestDispatcher(t, adapter, &fakeThrottle{allow: true}, &fakeRuleStatus{})

	event := webhookEvent(
		model.DeliveryTarget{Method: model.MethodEmail, Destination: "a@b.co", IsEnabled: false},
		model.DeliveryTarget{Method: model.MethodEmail, Destination: "c@d.co", IsEnabled: true},
	)
	outcomes, err := d.Dispatch(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1 (disabled skipped)", len(outcomes))
	}
	if outcomes[0].Target.Destination != "c@d.co" {
		t.Errorf("wrong target delivered: %+v", outcomes[0])
	}
	if len(audit.deliveries) != 1 {
		t.Errorf("delivery records = %d, want 1", len(audit.deliveries))
	}
}

func TestDispatchInvalidDestinationFails(t *testing.T) {
	adapter := &fakeAdapter{method: model.MethodEmail, validateErr: errors.New("bad address")}
	throttle := &fakeThrottle{allow: true}
	d, _, _, _ := newTestDispatcher(t, adapter, throttle, &fakeRuleStatus{})

	event := webhookEvent(model.DeliveryTarget{
		Method: model.MethodEmail, Destination: "not-an-email", IsEnabled: true,
	})
	outcomes, err := d.Dispatch(context.Background(), event)
	if err == nil {
		t.Fatal("expected error")
	}
	if outcomes[0].Status != model.DeliveryFailed || outcomes[0].Attempts != 0 {
		t.Errorf("outcome = %+v, want failed with 0 attempts", outcomes[0])
	}
	if adapter.callCount() != 0 {
		t.Error("invalid destination must not reach the adapter")
	}
	if throttle.recordCount() != 0 {
		t.Error("validation failure happens before the throttle")
	}
}

func TestDispatchRecordsAfterSendAttempt(t *testing.T) {
	seq := &opSeq{}
	adapter := &fakeAdapter{method: model.MethodEmail, sendErrs: []error{errors.New("smtp down")}, seq: seq}
	throttle := &fakeThrottle{allow: true, seq: seq}
	d, _, _, _ := newTestDispatcher(t, adapter, throttle, &fakeRuleStatus{})

	event := webhookEvent(model.DeliveryTarget{
		Method: model.MethodEmail, Destination: "a@b.co", IsEnabled: true,
	})
	if _, err := d.Dispatch(context.Background(), event); err == nil {
		t.Fatal("expected error")
	}
	// 失败的尝试同样占用配额，且计数发生在发送之后
	if throttle.recordCount() != 1 {
		t.Errorf("records = %d, want 1", throttle.recordCount())
	}
	got := seq.snapshot()
	if len(got) != 2 || got[0] != "send" || got[1] != "record" {
		t.Errorf("order = %v, want [send record]", got)
	}
}

func TestDispatchWebhookRecordsOncePerDelivery(t *testing.T) {
	seq := &opSeq{}
	adapter := &fakeAdapter{
		method:   model.MethodWebhook,
		sendErrs: []error{errors.New("boom"), errors.New("boom"), nil},
		seq:      seq,
	}
	throttle := &fakeThrottle{allow: true, seq: seq}
	d, _, _, _ := newTestDispatcher(t, adapter, throttle, &fakeRuleStatus{})

	event := webhookEvent(model.DeliveryTarget{
		Method: model.MethodWebhook, Destination: "https://hooks.example.com/x", IsEnabled: true,
	})
	if _, err := d.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 整个重试序列只计一次，且在所有尝试结束之后
	if throttle.recordCount() != 1 {
		t.Errorf("records = %d, want 1", throttle.recordCount())
	}
	got := seq.snapshot()
	want := []string{"send", "send", "send", "record"}
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestDispatchPublishesAuditTrail(t *testing.T) {
	adapter := &fakeAdapter{method: model.MethodEmail}
	d, audit, producer, _ := newTestDispatcher(t, adapter, &fakeThrottle{allow: true}, &fakeRuleStatus{})

	event := webhookEvent(model.DeliveryTarget{
		Method: model.MethodEmail, Destination: "a@b.co", IsEnabled: true,
	})
	if _, err := d.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(audit.triggers) != 1 || audit.triggers[0].ID != "evt-1" {
		t.Errorf("trigger record = %+v", audit.triggers)
	}
	if len(producer.msgs) != 1 || producer.msgs[0].topic != "alert_triggered" || producer.msgs[0].key != "r1" {
		t.Errorf("audit message = %+v", producer.msgs)
	}
}
