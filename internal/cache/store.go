package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/luinog1/crumble-engine/pkg/addon"
)

const registryKey = "addon-registry"

// RegistryStore persists the addon registry in the cache DB, so installed
// addons survive restarts.
type RegistryStore struct{}

func (RegistryStore) Save(manifests []addon.Manifest) error {
	return badgerDB.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(manifests)
		if err != nil {
			return fmt.Errorf("failed to json.Marshal: %w", err)
		}
		return txn.Set([]byte(registryKey), data)
	})
}

func (RegistryStore) Load() ([]addon.Manifest, error) {
	var manifests []addon.Manifest
	err := badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(registryKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &manifests)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load from cache: %w", err)
	}
	return manifests, nil
}
