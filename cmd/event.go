package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
)

// Static errors for event parsing
var (
	ErrEventNoRecords        = errors.New("event contains no S3 records")
	ErrEventNoKey            = errors.New("event record has no object key")
	ErrConvertSourceRequired = errors.New("one of --key or --event is required")
)

// S3Event is the object-created notification delivered to the converter
type S3Event struct {
	Records []S3EventRecord `json:"Records"`
}

// S3EventRecord is one notification record
type S3EventRecord struct {
	EventName string `json:"eventName"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size int64  `json:"size"`
		} `json:"object"`
	} `json:"s3"`
}

// ParseS3Event decodes a notification and returns one ObjectRef per record,
// in record order. Keys arrive form-encoded ("+" for space) and are decoded.
func ParseS3Event(r io.Reader) ([]ObjectRef, error) {
	var event S3Event
	if err := json.NewDecoder(r).Decode(&event); err != nil {
		return nil, fmt.Errorf("failed to decode S3 event: %w", err)
	}
	if len(event.Records) == 0 {
		return nil, ErrEventNoRecords
	}

	refs := make([]ObjectRef, 0, len(event.Records))
	for i, record := range event.Records {
		if record.S3.Object.Key == "" {
			return nil, fmt.Errorf("%w (record %d)", ErrEventNoKey, i)
		}
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("record %d: invalid object key %q: %w", i, record.S3.Object.Key, err)
		}
		refs = append(refs, ObjectRef{
			Bucket: record.S3.Bucket.Name,
			Key:    key,
		})
	}
	return refs, nil
}
