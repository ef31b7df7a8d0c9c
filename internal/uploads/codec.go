package uploads

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/treonstudio/chatuploads/internal/models"
)

// ToDurableEntries projects tasks onto durable queue entries. Only active tasks are
// kept; retry counts come from retries (missing ids start at 0). The payload and the
// cancellation handle never reach an entry because UploadTask does not carry them.
func ToDurableEntries(tasks []models.UploadTask, retries map[string]int) []models.QueueEntry {
	entries := make([]models.QueueEntry, 0, len(tasks))
	for _, task := range tasks {
		if !task.Status.IsActive() {
			continue
		}
		entries = append(entries, models.QueueEntry{UploadTask: task, RetryCount: retries[task.ID]})
	}
	sortEntries(entries)
	return entries
}

// FromDurableEntries reconstructs the task metadata carried by entries. The result
// has no payload and no cancellation handle, so it can never be resumed.
func FromDurableEntries(entries []models.QueueEntry) []models.UploadTask {
	tasks := make([]models.UploadTask, 0, len(entries))
	for _, entry := range entries {
		tasks = append(tasks, entry.UploadTask)
	}
	return tasks
}

// EncodeQueueState serializes entries as a versioned document.
func EncodeQueueState(entries []models.QueueEntry) ([]byte, error) {
	if entries == nil {
		entries = []models.QueueEntry{}
	}
	return json.Marshal(models.QueueState{Version: models.QueueStateVersion, Entries: entries})
}

// DecodeQueueState parses a document written by EncodeQueueState. An empty document
// decodes to no entries. Entries without an id are dropped; duplicate ids keep the last.
func DecodeQueueState(data []byte) ([]models.QueueEntry, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var state models.QueueState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode queue state: %w", err)
	}
	if state.Version != models.QueueStateVersion {
		return nil, fmt.Errorf("decode queue state: unsupported version %d", state.Version)
	}

	byID := make(map[string]int, len(state.Entries))
	entries := make([]models.QueueEntry, 0, len(state.Entries))
	for _, entry := range state.Entries {
		if entry.ID == "" {
			continue
		}
		if i, ok := byID[entry.ID]; ok {
			entries[i] = entry
			continue
		}
		byID[entry.ID] = len(entries)
		entries = append(entries, entry)
	}
	return entries, nil
}

func sortEntries(entries []models.QueueEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
}
