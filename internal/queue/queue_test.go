package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/nhsdigital/lg-bulk-upload/internal/model"
)

type enqueued struct {
	task *asynq.Task
	opts []asynq.Option
}

type fakeEnqueuer struct {
	calls []enqueued
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, enqueued{task: task, opts: opts})
	return &asynq.TaskInfo{ID: "task-" + strconv.Itoa(len(f.calls))}, nil
}

func option(opts []asynq.Option, typ asynq.OptionType) (any, bool) {
	for _, o := range opts {
		if o.Type() == typ {
			return o.Value(), true
		}
	}
	return nil, false
}

func newTestSender(f *fakeEnqueuer) *Sender {
	s := NewSender(f, 2*time.Minute, zerolog.Nop())
	n := 0
	s.newID = func() string { n++; return "id" + strconv.Itoa(n) }
	return s
}

func staging() *model.StagingMetadata {
	return &model.StagingMetadata{
		NHSNumber: "1234567890",
		Files: []model.MetadataFile{
			{FilePath: "/1234567890/1of2_x.pdf", GPPracticeCode: "Y12345"},
			{FilePath: "/1234567890/2of2_x.pdf", GPPracticeCode: "Y12345"},
		},
		Retries: 5,
	}
}

func decodeCall(t *testing.T, c enqueued) (Envelope, model.StagingMetadata) {
	t.Helper()
	env := DecodeEnvelope(c.task.Payload())
	var s model.StagingMetadata
	if err := json.Unmarshal([]byte(env.Body), &s); err != nil {
		t.Fatalf("body is not staging metadata: %v", err)
	}
	return env, s
}

func TestSendStaging(t *testing.T) {
	f := &fakeEnqueuer{}
	s := newTestSender(f)
	group := s.NewRunGroupID()

	if err := s.SendStaging(context.Background(), staging(), group); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(f.calls) != 1 {
		t.Fatalf("expected 1 task, got %d", len(f.calls))
	}
	c := f.calls[0]
	if c.task.Type() != TypeStagedUpload {
		t.Fatalf("type = %s", c.task.Type())
	}
	env, body := decodeCall(t, c)
	if env.NHSNumber() != "1234567890" || env.GroupID() != group {
		t.Fatalf("attributes = %v", env.Attributes)
	}
	if !strings.HasPrefix(group, "bulk_upload_") {
		t.Fatalf("group id = %s", group)
	}
	if len(body.Files) != 2 || body.Files[0].FilePath != "/1234567890/1of2_x.pdf" {
		t.Fatalf("body = %+v", body)
	}
	if v, ok := option(c.opts, asynq.GroupOpt); !ok || v != group {
		t.Fatalf("group option = %v", v)
	}
	if v, ok := option(c.opts, asynq.TaskIDOpt); !ok || v != group+"_1234567890_Y12345" {
		t.Fatalf("task id option = %v", v)
	}
	if v, _ := option(c.opts, asynq.QueueOpt); v != QueueBulkUpload {
		t.Fatalf("queue = %v", v)
	}
}

func TestSendStagingDuplicateIgnored(t *testing.T) {
	f := &fakeEnqueuer{err: asynq.ErrTaskIDConflict}
	if err := newTestSender(f).SendStaging(context.Background(), staging(), "g"); err != nil {
		t.Fatalf("duplicate should be ignored, got %v", err)
	}
}

func TestRequeue(t *testing.T) {
	f := &fakeEnqueuer{}
	s := newTestSender(f)
	st := staging()
	st.Retries++
	if err := s.Requeue(context.Background(), st); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	env, body := decodeCall(t, f.calls[0])
	if body.Retries != 6 {
		t.Fatalf("retries = %d", body.Retries)
	}
	if !strings.HasPrefix(env.GroupID(), "back_to_queue_bulk_upload_") {
		t.Fatalf("group = %s", env.GroupID())
	}
	if v, ok := option(f.calls[0].opts, asynq.ProcessInOpt); !ok || v != 2*time.Minute {
		t.Fatalf("process in = %v", v)
	}
	if _, ok := option(f.calls[0].opts, asynq.TaskIDOpt); ok {
		t.Fatal("requeued messages must not reuse a task id")
	}
}

func TestReturnToQueueKeepsBody(t *testing.T) {
	f := &fakeEnqueuer{}
	s := newTestSender(f)
	orig := Envelope{ID: "m1", Body: "not json", Attributes: map[string]string{AttrNHSNumber: "9000000009", AttrMessageGroupID: "old"}}
	if err := s.ReturnToQueue(context.Background(), orig); err != nil {
		t.Fatalf("return: %v", err)
	}
	got := DecodeEnvelope(f.calls[0].task.Payload())
	if got.Body != "not json" || got.NHSNumber() != "9000000009" {
		t.Fatalf("returned = %+v", got)
	}
	if got.GroupID() == "old" || orig.GroupID() != "old" {
		t.Fatal("expected a fresh group id without mutating the original")
	}
}

func TestSendStitching(t *testing.T) {
	f := &fakeEnqueuer{}
	if err := newTestSender(f).SendStitching(context.Background(), "9000000009"); err != nil {
		t.Fatalf("stitching: %v", err)
	}
	c := f.calls[0]
	if c.task.Type() != TypeStitching {
		t.Fatalf("type = %s", c.task.Type())
	}
	if v, _ := option(c.opts, asynq.QueueOpt); v != QueueStitching {
		t.Fatalf("queue = %v", v)
	}
	env := DecodeEnvelope(c.task.Payload())
	want := `{"nhs_number":"9000000009","snomed_code_doc_type":{"code":"16521000000101","display_name":"Lloyd George record folder"}}`
	if env.Body != want {
		t.Fatalf("body = %s", env.Body)
	}
	if env.GroupID() == "" {
		t.Fatal("expected a group id")
	}
}

func TestEnqueueMetadata(t *testing.T) {
	f := &fakeEnqueuer{}
	id, err := newTestSender(f).EnqueueMetadata(context.Background(), "metadata.csv")
	if err != nil || id != "task-1" {
		t.Fatalf("enqueue = %q, %v", id, err)
	}
	if string(f.calls[0].task.Payload()) != `{"key":"metadata.csv"}` {
		t.Fatalf("payload = %s", f.calls[0].task.Payload())
	}
}

func TestAggregate(t *testing.T) {
	tasks := []*asynq.Task{
		asynq.NewTask(TypeStagedUpload, []byte(`{"id":"a","body":"{}","attributes":{"NhsNumber":"1"}}`)),
		asynq.NewTask(TypeStagedUpload, []byte(`garbage`)),
		asynq.NewTask(TypeStagedUpload, []byte(`{"id":"c","body":"{}"}`)),
	}
	batchTask := Aggregate("g1", tasks)
	if batchTask.Type() != TypeUploadBatch {
		t.Fatalf("type = %s", batchTask.Type())
	}
	b, err := DecodeBatch(batchTask.Payload())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.Group != "g1" || len(b.Messages) != 3 {
		t.Fatalf("batch = %+v", b)
	}
	if b.Messages[0].ID != "a" || b.Messages[1].Body != "garbage" || b.Messages[2].ID != "c" {
		t.Fatalf("messages = %+v", b.Messages)
	}
}
