package workerproc

import (
	"context"
	"errors"
	"testing"

	"leadscore-backend/internal/bootstrap"
	"leadscore-backend/internal/queue"
)

type stubProcessor struct {
	msgs []queue.Message
	err  error
}

func (p *stubProcessor) ProcessRun(ctx context.Context, msg queue.Message) error {
	p.msgs = append(p.msgs, msg)
	return p.err
}

func validBody() string {
	data, _ := queue.EncodeMessage(queue.Message{
		RunID:             "run-1",
		AccountID:         "acct-1",
		BusinessContextID: "ctx-1",
		SubjectIdentifier: "acme_corp",
		AnalysisDepth:     "standard",
		RequestID:         "req-1",
	})
	return string(data)
}

func TestComputeMeta(t *testing.T) {
	meta := ComputeMeta("")
	if meta.BodyLen != 0 || meta.BodySHA != "" {
		t.Fatalf("empty meta = %+v", meta)
	}
	meta = ComputeMeta("abc")
	if meta.BodyLen != 3 || len(meta.BodySHA) != 64 {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestParseMessage(t *testing.T) {
	msg, _, err := ParseMessage(validBody())
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if msg.RunID != "run-1" || msg.SubjectIdentifier != "acme_corp" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestParseMessageRejectsEmptyBody(t *testing.T) {
	for _, body := range []string{"", "   \n"} {
		_, _, err := ParseMessage(body)
		var empty ErrEmptyBody
		if !errors.As(err, &empty) {
			t.Fatalf("body %q: err = %v, want ErrEmptyBody", body, err)
		}
	}
}

func TestParseMessageRejectsMalformedJSON(t *testing.T) {
	_, meta, err := ParseMessage("{not json")
	var decode ErrDecode
	if !errors.As(err, &decode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
	if meta.BodyLen != len("{not json") {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestParseMessageRejectsMissingRunID(t *testing.T) {
	_, _, err := ParseMessage(`{"accountId":"acct-1","requestId":"req-9"}`)
	var missing ErrMissingRunID
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want ErrMissingRunID", err)
	}
	if missing.RequestID != "req-9" {
		t.Fatalf("requestID = %q, want req-9", missing.RequestID)
	}
}

func TestHandleMessageProcessesRun(t *testing.T) {
	proc := &stubProcessor{}
	app := &bootstrap.App{RunProcessor: proc}

	if err := HandleMessage(context.Background(), app, validBody()); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(proc.msgs) != 1 || proc.msgs[0].RunID != "run-1" {
		t.Fatalf("processed %+v", proc.msgs)
	}
}

func TestHandleMessageWrapsProcessError(t *testing.T) {
	cause := errors.New("db unavailable")
	proc := &stubProcessor{err: cause}
	app := &bootstrap.App{RunProcessor: proc}

	err := HandleMessage(context.Background(), app, validBody())
	var pe ErrProcess
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ErrProcess", err)
	}
	if pe.RunID != "run-1" || !errors.Is(err, cause) {
		t.Fatalf("ErrProcess = %+v", pe)
	}
}

func TestHandleMessageReusesParsedMessage(t *testing.T) {
	proc := &stubProcessor{}
	app := &bootstrap.App{RunProcessor: proc}

	ctx := WithParsedMessage(context.Background(), queue.Message{RunID: "run-7"})
	if err := HandleMessage(ctx, app, "ignored body"); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(proc.msgs) != 1 || proc.msgs[0].RunID != "run-7" {
		t.Fatalf("processed %+v", proc.msgs)
	}
}

func TestHandleMessageRequiresProcessor(t *testing.T) {
	if err := HandleMessage(context.Background(), nil, validBody()); err == nil {
		t.Fatal("expected error for nil app")
	}
	if err := HandleMessage(context.Background(), &bootstrap.App{}, validBody()); err == nil {
		t.Fatal("expected error for missing processor")
	}
}

func TestFailTerminallyIgnoresUnusableInput(t *testing.T) {
	// Must not panic without an orchestrator or run id.
	FailTerminally(context.Background(), nil, "run-1", "boom")
	FailTerminally(context.Background(), &bootstrap.App{}, "run-1", "boom")
}
