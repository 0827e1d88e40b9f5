package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gantrymon/internal/downstream"
	"gantrymon/internal/ledger"
	"gantrymon/internal/pending"
	"gantrymon/internal/services"
)

// EntityCache remembers downstream ids by name.
type EntityCache interface {
	LookupEntity(ctx context.Context, kind, name string) (string, bool, error)
	RememberEntity(ctx context.Context, kind, name, id string) error
	ForgetEntity(ctx context.Context, kind, name string) error
}

// Levels returns the collection names a dataset is filed under, outermost
// first:
//
//	"VNIR - 2016-06-29__10-28-43-323" -> VNIR, VNIR - 2016, VNIR - 2016-06, VNIR - 2016-06-29
//	"co2Sensor - 2016-12-25"          -> co2Sensor, co2Sensor - 2016, co2Sensor - 2016-12
//	"irrigation"                      -> irrigation
//
// The day level exists only for timestamped keys.
func Levels(datasetKey string) []string {
	sensor, stamp, ok := pending.SplitDatasetName(datasetKey)
	if !ok {
		return []string{datasetKey}
	}
	levels := []string{sensor}
	date, _, timestamped := strings.Cut(stamp, "__")
	parts := strings.Split(date, "-")
	if len(parts) < 2 || !allDigits(parts[0]) || !allDigits(parts[1]) {
		return levels
	}
	levels = append(levels, sensor+" - "+parts[0], sensor+" - "+parts[0]+"-"+parts[1])
	if timestamped && len(parts) >= 3 && allDigits(parts[2]) {
		levels = append(levels, sensor+" - "+parts[0]+"-"+parts[1]+"-"+parts[2])
	}
	return levels
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ensureDataset returns the downstream dataset id for datasetKey, creating
// the collection chain and the dataset on first use.
func (n *Notifier) ensureDataset(ctx context.Context, datasetKey, spaceID string) (string, error) {
	if id, ok, err := n.cache.LookupEntity(ctx, ledger.EntityDataset, datasetKey); err != nil {
		return "", err
	} else if ok {
		return id, nil
	}

	parentID := ""
	for _, name := range Levels(datasetKey) {
		id, err := n.ensureCollection(ctx, name, parentID, spaceID)
		if err != nil {
			return "", fmt.Errorf("collection %q: %w", name, err)
		}
		parentID = id
	}

	id, found, err := n.store.FindDataset(ctx, datasetKey)
	if err != nil {
		return "", err
	}
	if !found {
		id, err = n.store.CreateDataset(ctx, downstream.DatasetSpec{
			Name:         datasetKey,
			CollectionID: parentID,
			SpaceID:      spaceID,
		})
		if err != nil {
			return "", err
		}
	}
	if err := n.cache.RememberEntity(ctx, ledger.EntityDataset, datasetKey, id); err != nil {
		return "", err
	}
	return id, nil
}

func (n *Notifier) ensureCollection(ctx context.Context, name, parentID, spaceID string) (string, error) {
	if id, ok, err := n.cache.LookupEntity(ctx, ledger.EntityCollection, name); err != nil {
		return "", err
	} else if ok {
		return id, nil
	}
	id, found, err := n.store.FindCollection(ctx, name)
	if err != nil {
		return "", err
	}
	if !found {
		id, err = n.store.CreateCollection(ctx, downstream.CollectionSpec{
			Name:     name,
			ParentID: parentID,
			SpaceID:  spaceID,
		})
		if err != nil {
			return "", err
		}
	}
	if err := n.cache.RememberEntity(ctx, ledger.EntityCollection, name, id); err != nil {
		return "", err
	}
	return id, nil
}

// forgetDataset drops a cached dataset id the store no longer recognises.
func (n *Notifier) forgetDataset(ctx context.Context, datasetKey string, cause error) {
	if !errors.Is(cause, services.ErrNotFound) {
		return
	}
	_ = n.cache.ForgetEntity(ctx, ledger.EntityDataset, datasetKey)
}
