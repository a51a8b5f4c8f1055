package main

import (
	"encoding/binary"
	"errors"

	"github.com/GoCodeAlone/hotswap"
)

// demoModule is a trivial counter module used to exercise the registry
// and the recovery path from the admin API.
type demoModule struct {
	count uint64
}

func newDemoModule() *demoModule {
	return &demoModule{}
}

func (m *demoModule) Name() string { return "demo" }

func (m *demoModule) Version() hotswap.ModuleVersion {
	return hotswap.ModuleVersion{Major: 1, Minor: 0, Patch: 0}
}

func (m *demoModule) Category() hotswap.ModuleCategory { return hotswap.CategoryCustom }

func (m *demoModule) Init() error { return nil }

func (m *demoModule) PrepareUnload() error { return nil }

func (m *demoModule) ExportState() *hotswap.ModuleState {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, m.count)
	return hotswap.NewModuleState(1, data)
}

func (m *demoModule) ImportState(state *hotswap.ModuleState) error {
	if !state.Validate() {
		return errors.New("demo state checksum mismatch")
	}
	data := state.Bytes()
	if len(data) >= 8 {
		m.count = binary.BigEndian.Uint64(data)
	}
	return nil
}

func (m *demoModule) CanUnload() bool { return true }
