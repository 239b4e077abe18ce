package main

import (
	"fmt"
	"os"

	"github.com/nvdmirror/nvdsync/internal/archive"
	"github.com/nvdmirror/nvdsync/internal/store"
	"github.com/nvdmirror/nvdsync/internal/transport"
)

// openStore opens the metadata database and makes sure the schema exists.
func openStore() (*store.Store, error) {
	st, err := store.OpenContext(rootCtx, settings.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.InitSchemaContext(rootCtx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// openExistingStore opens the database without creating it.
func openExistingStore() (*store.Store, error) {
	if _, err := os.Stat(settings.DBPath); err != nil {
		return nil, fmt.Errorf("database %s not found (run 'nvdsync init' first): %w", settings.DBPath, err)
	}
	return store.OpenContext(rootCtx, settings.DBPath)
}

func openArchive() (*archive.Archive, error) {
	return archive.Open(settings.DataDir)
}

func newTransport() *transport.Client {
	return transport.New(&transport.Config{
		APIKey:       settings.APIKey,
		Timeout:      settings.Timeout,
		Delay:        settings.Delay,
		DelayWithKey: settings.DelayWithKey,
		Logger:       sink.Verbose("transport"),
	})
}
