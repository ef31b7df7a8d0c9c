package mock

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/treonstudio/chatuploads/internal/storage"
)

func request(id string) storage.TransferRequest {
	return storage.TransferRequest{
		UploadID: id,
		ChatID:   "c1",
		FileName: "photo.jpg",
		Body:     strings.NewReader("jpeg-bytes"),
	}
}

func TestTransport_Upload(t *testing.T) {
	tr := NewTransport()

	var got []int
	url, err := tr.Upload(context.Background(), request("u1"), func(p int) { got = append(got, p) })
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if url != "mock://chats/c1/u1/photo.jpg" {
		t.Errorf("url = %q", url)
	}
	if want := []int{25, 50, 75}; len(got) != len(want) || got[0] != 25 || got[2] != 75 {
		t.Errorf("progress = %v, want %v", got, want)
	}

	content, ok := tr.Object("chats/c1/u1/photo.jpg")
	if !ok || !bytes.Equal(content, []byte("jpeg-bytes")) {
		t.Errorf("Object() = %q, %v", content, ok)
	}
	if keys := tr.Keys(); len(keys) != 1 {
		t.Errorf("Keys() = %v, want one key", keys)
	}
	if tr.Attempts("u1") != 1 {
		t.Errorf("Attempts() = %d, want 1", tr.Attempts("u1"))
	}
}

func TestTransport_UploadError(t *testing.T) {
	tr := NewTransport()
	boom := errors.New("boom")
	tr.UploadError = boom

	for i := 0; i < 3; i++ {
		if _, err := tr.Upload(context.Background(), request("u1"), nil); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: err = %v, want boom", i+1, err)
		}
	}
	if len(tr.Keys()) != 0 {
		t.Error("failed uploads must not store objects")
	}
}

func TestTransport_FailFirst(t *testing.T) {
	tr := NewTransport()
	tr.FailFirst = 2

	for i := 1; i <= 2; i++ {
		if _, err := tr.Upload(context.Background(), request("u1"), nil); !errors.Is(err, ErrUploadFailed) {
			t.Fatalf("attempt %d: err = %v, want ErrUploadFailed", i, err)
		}
	}
	if _, err := tr.Upload(context.Background(), request("u1"), nil); err != nil {
		t.Fatalf("attempt 3: unexpected error %v", err)
	}

	// Attempts are counted per upload id
	if _, err := tr.Upload(context.Background(), request("u2"), nil); !errors.Is(err, ErrUploadFailed) {
		t.Errorf("u2 first attempt: err = %v, want ErrUploadFailed", err)
	}
}

func TestTransport_GateCancel(t *testing.T) {
	tr := NewTransport()
	tr.Gate = make(chan struct{})
	tr.Started = make(chan string, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := tr.Upload(ctx, request("u1"), nil)
		done <- err
	}()

	select {
	case id := <-tr.Started:
		if id != "u1" {
			t.Errorf("started id = %q, want u1", id)
		}
	case <-time.After(time.Second):
		t.Fatal("upload did not start")
	}

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, storage.ErrTransferAborted) {
			t.Errorf("err = %v, want ErrTransferAborted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("upload did not abort after cancel")
	}
}

func TestTransport_GateRelease(t *testing.T) {
	tr := NewTransport()
	tr.Gate = make(chan struct{})
	close(tr.Gate)

	if _, err := tr.Upload(context.Background(), request("u1"), nil); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
}

func TestTransport_Reset(t *testing.T) {
	tr := NewTransport()
	tr.UploadError = errors.New("boom")
	tr.FailFirst = 1
	tr.Upload(context.Background(), request("u1"), nil)

	tr.Reset()

	if tr.UploadError != nil || tr.FailFirst != 0 || tr.Attempts("u1") != 0 {
		t.Error("Reset should clear errors and counters")
	}
	if _, err := tr.Upload(context.Background(), request("u1"), nil); err != nil {
		t.Errorf("Upload after Reset failed: %v", err)
	}
}
