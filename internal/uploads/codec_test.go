package uploads

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/treonstudio/chatuploads/internal/models"
)

func TestToDurableEntries(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tasks := []models.UploadTask{
		{ID: "b", Status: models.StatusUploading, Progress: 40, CreatedAt: base.Add(2 * time.Second)},
		{ID: "a", Status: models.StatusPending, CreatedAt: base.Add(time.Second)},
		{ID: "c", Status: models.StatusCompleted, CreatedAt: base},
		{ID: "d", Status: models.StatusFailed, CreatedAt: base},
		{ID: "e", Status: models.StatusCancelled, CreatedAt: base},
	}

	entries := ToDurableEntries(tasks, map[string]int{"b": 2, "c": 1})

	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2 (only active tasks)", len(entries))
	}
	if entries[0].ID != "a" || entries[1].ID != "b" {
		t.Errorf("order = [%s %s], want [a b]", entries[0].ID, entries[1].ID)
	}
	if entries[0].RetryCount != 0 || entries[1].RetryCount != 2 {
		t.Errorf("retry counts = [%d %d], want [0 2]", entries[0].RetryCount, entries[1].RetryCount)
	}
	if entries[1].Progress != 40 {
		t.Errorf("progress = %d, want 40", entries[1].Progress)
	}
}

func TestFromDurableEntries(t *testing.T) {
	entries := []models.QueueEntry{
		{UploadTask: models.UploadTask{ID: "a", ChatID: "c1", FileName: "x.jpg"}, RetryCount: 3},
	}

	tasks := FromDurableEntries(entries)
	if len(tasks) != 1 || tasks[0].ID != "a" || tasks[0].ChatID != "c1" || tasks[0].FileName != "x.jpg" {
		t.Errorf("FromDurableEntries() = %+v", tasks)
	}
}

func TestEncodeDecodeQueueState(t *testing.T) {
	started := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	entries := []models.QueueEntry{{
		UploadTask: models.UploadTask{
			ID:            "upload_1",
			ChatID:        "c1",
			IsGroupChat:   true,
			FileName:      "clip.mp4",
			FileSize:      1024,
			FileType:      models.FileTypeVideo,
			MimeType:      "video/mp4",
			TempMessageID: "tmp_1",
			UserID:        "u1",
			UserName:      "Ana",
			Status:        models.StatusUploading,
			Progress:      10,
			Phase:         models.PhaseCompressing,
			CreatedAt:     started.Add(-time.Minute),
			StartedAt:     &started,
		},
		RetryCount: 1,
	}}

	data, err := EncodeQueueState(entries)
	if err != nil {
		t.Fatalf("EncodeQueueState() error = %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("document is not JSON: %v", err)
	}
	if raw["version"] != float64(models.QueueStateVersion) {
		t.Errorf("version = %v, want %d", raw["version"], models.QueueStateVersion)
	}

	decoded, err := DecodeQueueState(data)
	if err != nil {
		t.Fatalf("DecodeQueueState() error = %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("len(decoded) = %d, want 1", len(decoded))
	}
	got := decoded[0]
	if got.ID != "upload_1" || got.RetryCount != 1 || got.Phase != models.PhaseCompressing || !got.IsGroupChat {
		t.Errorf("decoded entry = %+v", got)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
}

func TestEncodeQueueState_Empty(t *testing.T) {
	data, err := EncodeQueueState(nil)
	if err != nil {
		t.Fatalf("EncodeQueueState(nil) error = %v", err)
	}
	if !strings.Contains(string(data), `"entries":[]`) {
		t.Errorf("document = %s, want an empty entries array", data)
	}
}

func TestDecodeQueueState(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantIDs []string
		wantErr bool
	}{
		{name: "empty document", data: "", wantIDs: nil},
		{name: "no entries", data: `{"version":1,"entries":[]}`, wantIDs: []string{}},
		{name: "unsupported version", data: `{"version":2,"entries":[]}`, wantErr: true},
		{name: "missing version", data: `{"entries":[]}`, wantErr: true},
		{name: "garbage", data: `not json`, wantErr: true},
		{
			name:    "entries without id are dropped",
			data:    `{"version":1,"entries":[{"id":""},{"id":"a"}]}`,
			wantIDs: []string{"a"},
		},
		{
			name:    "duplicate ids keep the last",
			data:    `{"version":1,"entries":[{"id":"a","retry_count":1},{"id":"b"},{"id":"a","retry_count":2}]}`,
			wantIDs: []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := DecodeQueueState([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(entries) != len(tt.wantIDs) {
				t.Fatalf("len(entries) = %d, want %d", len(entries), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if entries[i].ID != id {
					t.Errorf("entries[%d].ID = %q, want %q", i, entries[i].ID, id)
				}
			}
		})
	}

	entries, _ := DecodeQueueState([]byte(`{"version":1,"entries":[{"id":"a","retry_count":1},{"id":"a","retry_count":2}]}`))
	if entries[0].RetryCount != 2 {
		t.Errorf("duplicate RetryCount = %d, want 2", entries[0].RetryCount)
	}
}
