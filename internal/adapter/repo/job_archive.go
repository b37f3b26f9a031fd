package repo

import (
	"encoding/json"
	"fmt"

	"gateway/internal/domain"
)

// archiveColumns is the serialized form shared by both archive backends.
type archiveColumns struct {
	payload []byte
	result  []byte
	errInfo []byte
}

func encodeJob(job domain.Job) (archiveColumns, error) {
	cols := archiveColumns{payload: nullableBytes(job.Payload)}
	if job.Result != nil {
		b, err := json.Marshal(job.Result)
		if err != nil {
			return cols, fmt.Errorf("encode result: %w", err)
		}
		cols.result = b
	}
	if job.Error != nil {
		b, err := json.Marshal(job.Error)
		if err != nil {
			return cols, fmt.Errorf("encode error: %w", err)
		}
		cols.errInfo = b
	}
	return cols, nil
}

func decodeJob(job *domain.Job, cols archiveColumns) error {
	if len(cols.payload) > 0 {
		job.Payload = append(json.RawMessage(nil), cols.payload...)
	}
	if len(cols.result) > 0 && string(cols.result) != "null" {
		var res domain.Result
		if err := json.Unmarshal(cols.result, &res); err != nil {
			return fmt.Errorf("decode result for %s: %w", job.ID, err)
		}
		job.Result = &res
	}
	if len(cols.errInfo) > 0 && string(cols.errInfo) != "null" {
		var info domain.ErrorInfo
		if err := json.Unmarshal(cols.errInfo, &info); err != nil {
			return fmt.Errorf("decode error for %s: %w", job.ID, err)
		}
		job.Error = &info
	}
	return nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
