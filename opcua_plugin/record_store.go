package opcua_plugin

import (
	"context"
	"fmt"

	"github.com/redpanda-data/benthos/v4/public/service"
)

// cacheRecordStore writes device record fields into a benthos cache
// resource under "<device>/<field>".
type cacheRecordStore struct {
	mgr      *service.Resources
	resource string
}

func newCacheRecordStore(mgr *service.Resources, resource string) *cacheRecordStore {
	return &cacheRecordStore{mgr: mgr, resource: resource}
}

func (s *cacheRecordStore) BulkUpdate(ctx context.Context, record *DeviceRecord, fields []string) error {
	var setErr error
	err := s.mgr.AccessCache(ctx, s.resource, func(c service.Cache) {
		for _, field := range fields {
			value, err := recordField(record, field)
			if err != nil {
				setErr = err
				return
			}
			if err := c.Set(ctx, record.Name+"/"+field, []byte(value), nil); err != nil {
				setErr = fmt.Errorf("set %s/%s: %w", record.Name, field, err)
				return
			}
		}
	})
	if err != nil {
		return fmt.Errorf("access cache %s: %w", s.resource, err)
	}
	return setErr
}

// logRecordStore is used when no cache is configured; it only logs.
type logRecordStore struct {
	log *service.Logger
}

func (s *logRecordStore) BulkUpdate(_ context.Context, record *DeviceRecord, fields []string) error {
	for _, field := range fields {
		value, err := recordField(record, field)
		if err != nil {
			return err
		}
		s.log.Infof("Device %s %s:\n%s", record.Name, field, value)
	}
	return nil
}

func recordField(record *DeviceRecord, field string) (string, error) {
	switch field {
	case RemoteDevicesObjectsField:
		return record.RemoteDevicesObjects, nil
	default:
		return "", fmt.Errorf("unknown device record field %q", field)
	}
}

// newRecordStore picks the store for a parsed device configuration.
func newRecordStore(mgr *service.Resources, cacheResource string) RecordStore {
	if cacheResource != "" {
		return newCacheRecordStore(mgr, cacheResource)
	}
	return &logRecordStore{log: mgr.Logger()}
}
